// Package dns implements the DNS port of spec.md §6: TXT, SRV, and A
// lookups used to resolve a peer's public key (via a
// _osp.<hostname> TXT record) and its outbound socket endpoint (via
// an SRV record and a follow-up A lookup). Built on
// github.com/miekg/dns rather than the standard library's
// net.Resolver, which exposes TXT/SRV/A records through a narrower,
// string-oriented API and gives no control over which resolver or
// transport answers the query (see SPEC_FULL.md §6 and DESIGN.md).
package dns

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/jython234/osp/oerrors"
)

// SRVTarget is one answer from an SRV lookup: the target hostname and
// port a subsequent A lookup (or direct dial) should use.
type SRVTarget struct {
	Target string
	Port   uint16
}

// Port is the DNS capability the core consumes, per spec.md §6.
type Port interface {
	ResolveTXT(ctx context.Context, name string) ([][]byte, error)
	ResolveSRV(ctx context.Context, name string) ([]SRVTarget, error)
	ResolveA(ctx context.Context, target string) ([]net.IP, error)
}

// Resolver implements Port against a configured upstream DNS server
// using github.com/miekg/dns.
type Resolver struct {
	// Server is the "host:port" of the upstream resolver.
	// NewResolver replaces an empty value with "127.0.0.1:53".
	Server string
	Client *dns.Client
}

// NewResolver returns a Resolver pointed at server, or at
// "127.0.0.1:53" if server is empty.
func NewResolver(server string) *Resolver {
	if server == "" {
		server = "127.0.0.1:53"
	}
	return &Resolver{
		Server: server,
		Client: &dns.Client{Timeout: 5 * time.Second},
	}
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	resp, _, err := r.Client.ExchangeContext(ctx, msg, r.Server)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindResolution, err, "dns exchange")
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, oerrors.New(oerrors.KindResolution, "dns query failed: "+dns.RcodeToString[resp.Rcode])
	}
	return resp, nil
}

// ResolveTXT resolves the TXT records at name. spec.md §4.5 step 2
// interprets the first record as a PEM-encoded RSA public key.
func (r *Resolver) ResolveTXT(ctx context.Context, name string) ([][]byte, error) {
	resp, err := r.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}

	var records [][]byte
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		var joined []byte
		for _, chunk := range txt.Txt {
			joined = append(joined, []byte(chunk)...)
		}
		records = append(records, joined)
	}
	if len(records) == 0 {
		return nil, oerrors.New(oerrors.KindResolution, "no TXT records found for "+name)
	}
	return records, nil
}

// ResolveSRV resolves the SRV records at name.
func (r *Resolver) ResolveSRV(ctx context.Context, name string) ([]SRVTarget, error) {
	resp, err := r.exchange(ctx, name, dns.TypeSRV)
	if err != nil {
		return nil, err
	}

	var targets []SRVTarget
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		targets = append(targets, SRVTarget{
			Target: strings.TrimSuffix(srv.Target, "."),
			Port:   srv.Port,
		})
	}
	if len(targets) == 0 {
		return nil, oerrors.New(oerrors.KindResolution, "no SRV records found for "+name)
	}
	return targets, nil
}

// ResolveA resolves the A records at target to IPv4 addresses.
func (r *Resolver) ResolveA(ctx context.Context, target string) ([]net.IP, error) {
	resp, err := r.exchange(ctx, target, dns.TypeA)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		ips = append(ips, a.A)
	}
	if len(ips) == 0 {
		return nil, oerrors.New(oerrors.KindResolution, "no A records found for "+target)
	}
	return ips, nil
}

// OSPLabel formats the well-known TXT/SRV label for hostname, per
// spec.md §3 ("<domain> resolves via SRV lookup at the well-known
// label _osp.<domain>").
func OSPLabel(hostname string) string {
	return "_osp." + hostname
}

