// Package node implements the node supervisor of spec.md §4.7: the
// typestate that owns the registry, subscriber list, private key, and
// accept loop tying every other package together.
package node

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jython234/osp/conn"
	"github.com/jython234/osp/cryptoutil"
	"github.com/jython234/osp/dns"
	"github.com/jython234/osp/metrics"
	"github.com/jython234/osp/oerrors"
	"github.com/jython234/osp/osp"
	"github.com/jython234/osp/registry"
)

// Config is the minimal wiring Node needs from config.Config, kept
// separate so this package doesn't depend on file I/O or YAML.
type Config struct {
	BindAddr string
	Hostname string
}

// InitNode is the pre-start typestate: configured, but without a
// private key or listener yet (spec.md §4.7 "requiring a private
// key").
type InitNode struct {
	cfg      Config
	dnsPort  dns.Port
	crypto   cryptoutil.Port
	metrics  *metrics.Collector
	log      *logrus.Entry
	registry *registry.Registry
}

// NewNode builds the InitNode typestate. dnsPort and cryptoPort are
// injected capabilities (spec.md §6 DnsPort/CryptoPort); passing nil
// for either uses the production implementation (a miekg/dns
// Resolver, an RSAPort).
func NewNode(cfg Config, dnsPort dns.Port, cryptoPort cryptoutil.Port, collector *metrics.Collector, log *logrus.Entry) *InitNode {
	if dnsPort == nil {
		dnsPort = dns.NewResolver("")
	}
	if cryptoPort == nil {
		cryptoPort = cryptoutil.NewRSAPort()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &InitNode{
		cfg:      cfg,
		dnsPort:  dnsPort,
		crypto:   cryptoPort,
		metrics:  collector,
		log:      log,
		registry: registry.New(),
	}
}

// Registry exposes the node's type-data registry so callers can
// Register/InstallObserver before Init.
func (i *InitNode) Registry() *registry.Registry { return i.registry }

// Init binds privateKey and advances to the live Node typestate.
func (i *InitNode) Init(privateKey *rsa.PrivateKey) (*Node, error) {
	if privateKey == nil {
		return nil, oerrors.New(oerrors.KindAuth, "node: private key is required")
	}
	return &Node{
		cfg:        i.cfg,
		dnsPort:    i.dnsPort,
		crypto:     i.crypto,
		metrics:    i.metrics,
		log:        i.log,
		registry:   i.registry,
		privateKey: privateKey,
	}, nil
}

type subscriber struct {
	hostname string
}

// Node is the live, listening typestate (spec.md §4.7). Zero or more
// goroutines run inbound connections concurrently; Broadcast and
// SubscribeTo may be called at any time after Init.
type Node struct {
	cfg        Config
	dnsPort    dns.Port
	crypto     cryptoutil.Port
	metrics    *metrics.Collector
	log        *logrus.Entry
	registry   *registry.Registry
	privateKey *rsa.PrivateKey

	mu          sync.Mutex
	subscribers []subscriber
}

// Registry exposes the node's type-data registry.
func (n *Node) Registry() *registry.Registry { return n.registry }

// Listen accepts connections on cfg.BindAddr until ctx is canceled or
// the listener errors, spawning one goroutine per accepted connection
// (spec.md §4.7, §7: "Node.Listen spawns one goroutine per Accept()").
func (n *Node) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", n.cfg.BindAddr)
	if err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "listen on "+n.cfg.BindAddr)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		c, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return oerrors.Wrap(oerrors.KindTransport, err, "accept connection")
			}
		}
		go n.handleInbound(ctx, c)
	}
}

func (n *Node) handleInbound(ctx context.Context, c net.Conn) {
	defer c.Close()

	log := n.log.WithField("remote_addr", c.RemoteAddr().String())
	hs := conn.NewInboundHandshake(c, n.dnsPort, n.crypto, n.registry, n.metrics, log)

	transfer, intent, hostname, err := hs.Run(ctx)
	if err != nil {
		log.WithError(err).Warn("inbound handshake failed")
		if n.metrics != nil {
			kind, _ := oerrors.KindOf(err)
			n.metrics.RecordHandshakeRejected(kind.String())
		}
		return
	}
	log = log.WithField("hostname", hostname)

	if n.metrics != nil {
		n.metrics.HandshakesAccepted.Inc()
	}

	switch intent {
	case osp.IntentSubscribe:
		n.addSubscriber(hostname)
		log.Info("peer subscribed")

	case osp.IntentTransferData:
		for {
			if err := transfer.ReceiveOne(ctx); err != nil {
				if err != context.Canceled {
					log.WithError(err).Warn("transfer ended")
				}
				return
			}
		}
	}
}

func (n *Node) addSubscriber(hostname string) {
	n.mu.Lock()
	n.subscribers = append(n.subscribers, subscriber{hostname: hostname})
	count := len(n.subscribers)
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.ActiveSubscribers.Set(float64(count))
	}
}

func (n *Node) snapshotSubscribers() []subscriber {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]subscriber, len(n.subscribers))
	copy(out, n.subscribers)
	return out
}

// Broadcast pushes obj to every current subscriber concurrently. A
// failed push to one subscriber is logged and does not abort the rest
// of the fan-out; per-subscriber errors are not returned, so Broadcast
// returns nil once every push has finished.
func (n *Node) Broadcast(ctx context.Context, obj registry.Typed) error {
	subs := n.snapshotSubscribers()
	if len(subs) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		s := s
		g.Go(func() error {
			if err := n.pushTo(ctx, s, obj); err != nil {
				n.log.WithField("hostname", s.hostname).WithError(err).Warn("broadcast to subscriber failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// resolveSubscriberAddr finds where to dial a subscribed hostname by
// SRV lookup at its well-known label, the same label whose TXT record
// holds a handshake peer's public key (spec.md §6: peers are
// addressed by hostname, not by the ephemeral source port of their
// inbound connection).
func (n *Node) resolveSubscriberAddr(ctx context.Context, hostname string) (string, error) {
	targets, err := n.dnsPort.ResolveSRV(ctx, dns.OSPLabel(hostname))
	if err != nil {
		return "", oerrors.Wrap(oerrors.KindResolution, err, "resolve SRV for "+hostname)
	}
	if len(targets) == 0 {
		return "", oerrors.New(oerrors.KindResolution, "no SRV record for "+hostname)
	}
	ips, err := n.dnsPort.ResolveA(ctx, targets[0].Target)
	if err != nil {
		return "", oerrors.Wrap(oerrors.KindResolution, err, "resolve A for "+targets[0].Target)
	}
	if len(ips) == 0 {
		return "", oerrors.New(oerrors.KindResolution, "no A record for "+targets[0].Target)
	}
	return fmt.Sprintf("%s:%d", ips[0].String(), targets[0].Port), nil
}

func (n *Node) pushTo(ctx context.Context, s subscriber, obj registry.Typed) error {
	addr, err := n.resolveSubscriberAddr(ctx, s.hostname)
	if err != nil {
		return err
	}
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "dial subscriber")
	}
	defer c.Close()

	waiting := conn.NewOutboundWaiting(osp.ConnectionTypeServer, n.cfg.Hostname, n.privateKey, n.crypto, n.metrics, n.log)
	hs := waiting.Dial(ctx, c)
	ready, err := hs.Run(ctx)
	if err != nil {
		return err
	}
	transfer, err := ready.Transfer(ctx, n.registry)
	if err != nil {
		return err
	}
	if err := transfer.SendObject(ctx, obj); err != nil {
		return err
	}
	return transfer.Close()
}

// SubscribeTo dials target, completes the handshake, and declares
// IntentSubscribe (spec.md §4.7).
func (n *Node) SubscribeTo(ctx context.Context, target osp.URL) error {
	c, err := net.Dial("tcp", fmt.Sprintf("%s:%d", target.Domain, target.Port))
	if err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "dial "+target.String())
	}
	defer c.Close()

	waiting := conn.NewOutboundWaiting(osp.ConnectionTypeClient, n.cfg.Hostname, n.privateKey, n.crypto, n.metrics, n.log)
	hs := waiting.Dial(ctx, c)
	ready, err := hs.Run(ctx)
	if err != nil {
		return err
	}
	return ready.Subscribe(ctx)
}
