package osp

import (
	"net/url"
	"strconv"

	"github.com/jython234/osp/oerrors"
)

// URL is a parsed osp://<domain>[:<port>] connection address, per
// spec.md §3 and §6. Grounded on the original_source OSPUrl type
// (crates/protocol/src/url.rs), reimplemented over net/url instead of
// the Rust url crate.
type URL struct {
	Domain string
	Port   uint16
}

// DefaultPort is used when a URL omits an explicit port.
const DefaultPort uint16 = 57401

// ParseURL parses raw as an osp:// URL. Any scheme other than "osp"
// is rejected (spec.md §6, scenario F).
func ParseURL(raw string) (URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return URL{}, oerrors.Wrap(oerrors.KindProtocol, err, "invalid url")
	}
	if parsed.Scheme != "osp" {
		return URL{}, oerrors.New(oerrors.KindProtocol, "invalid scheme, expected osp://")
	}
	if parsed.Hostname() == "" {
		return URL{}, oerrors.New(oerrors.KindProtocol, "missing domain in osp url")
	}

	port := DefaultPort
	if p := parsed.Port(); p != "" {
		parsedPort, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return URL{}, oerrors.Wrap(oerrors.KindProtocol, err, "invalid port in osp url")
		}
		port = uint16(parsedPort)
	}

	return URL{Domain: parsed.Hostname(), Port: port}, nil
}

// String renders the URL back to its osp:// form.
func (u URL) String() string {
	return "osp://" + u.Domain + ":" + strconv.FormatUint(uint64(u.Port), 10)
}
