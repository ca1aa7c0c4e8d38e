package node

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jython234/osp/cryptoutil"
	"github.com/jython234/osp/dns"
	"github.com/jython234/osp/osp"
	"github.com/jython234/osp/registry"
)

// fakeDNS is a fixed-table stand-in for a real _osp.<hostname> TXT/SRV
// zone, keyed by the fully-qualified label (dns.OSPLabel output).
type fakeDNS struct {
	mu      sync.Mutex
	pubKeys map[string][]byte
	srv     map[string][]dns.SRVTarget
	a       map[string][]net.IP
}

func newFakeDNS() *fakeDNS {
	return &fakeDNS{pubKeys: map[string][]byte{}, srv: map[string][]dns.SRVTarget{}, a: map[string][]net.IP{}}
}

func (f *fakeDNS) setPublicKey(hostname string, pem []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubKeys[dns.OSPLabel(hostname)] = pem
}

func (f *fakeDNS) setSRV(hostname, target string, port uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.srv[dns.OSPLabel(hostname)] = []dns.SRVTarget{{Target: target, Port: port}}
}

func (f *fakeDNS) setA(target string, ip net.IP) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.a[target] = []net.IP{ip}
}

func (f *fakeDNS) ResolveTXT(_ context.Context, name string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pem, ok := f.pubKeys[name]
	if !ok {
		return nil, assertErr("no TXT record for " + name)
	}
	return [][]byte{pem}, nil
}

func (f *fakeDNS) ResolveSRV(_ context.Context, name string) ([]dns.SRVTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	targets, ok := f.srv[name]
	if !ok {
		return nil, assertErr("no SRV record for " + name)
	}
	return targets, nil
}

func (f *fakeDNS) ResolveA(_ context.Context, target string) ([]net.IP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ips, ok := f.a[target]
	if !ok {
		return nil, assertErr("no A record for " + target)
	}
	return ips, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type pushedMessage struct {
	Value uint32
}

func (pushedMessage) TypeID() uuid.UUID {
	return uuid.MustParse("9eddbf56-8cba-4962-9769-dcc84f1eefae")
}

func encodePushedMessage(m pushedMessage) ([]byte, error) {
	return []byte{byte(m.Value), byte(m.Value >> 8), byte(m.Value >> 16), byte(m.Value >> 24)}, nil
}

func decodePushedMessage(data []byte) (pushedMessage, int, error) {
	var v uint32
	for i := 0; i < 4 && i < len(data); i++ {
		v |= uint32(data[i]) << (8 * i)
	}
	return pushedMessage{Value: v}, 4, nil
}

func TestInitRequiresPrivateKey(t *testing.T) {
	init := NewNode(Config{BindAddr: "127.0.0.1:0", Hostname: "node.test"}, newFakeDNS(), cryptoutil.NewRSAPort(), nil, nil)
	_, err := init.Init(nil)
	assert.Error(t, err)
}

func TestSubscribeThenBroadcastDeliversObject(t *testing.T) {
	dnsPort := newFakeDNS()

	aPriv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)
	bPriv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)

	dnsPort.setPublicKey("node-a.test", cryptoutil.EncodePublicKeyPEM(&aPriv.PublicKey))
	dnsPort.setPublicKey("node-b.test", cryptoutil.EncodePublicKeyPEM(&bPriv.PublicKey))
	dnsPort.setSRV("node-b.test", "node-b.internal", 19322)
	dnsPort.setA("node-b.internal", net.ParseIP("127.0.0.1"))

	aInit := NewNode(Config{BindAddr: "127.0.0.1:19321", Hostname: "node-a.test"}, dnsPort, cryptoutil.NewRSAPort(), nil, nil)
	bInit := NewNode(Config{BindAddr: "127.0.0.1:19322", Hostname: "node-b.test"}, dnsPort, cryptoutil.NewRSAPort(), nil, nil)

	require.NoError(t, registry.Register(aInit.Registry(), encodePushedMessage, decodePushedMessage))
	require.NoError(t, registry.Register(bInit.Registry(), encodePushedMessage, decodePushedMessage))

	var received pushedMessage
	var mu sync.Mutex
	require.NoError(t, registry.InstallObserver(bInit.Registry(), func(m pushedMessage) {
		mu.Lock()
		received = m
		mu.Unlock()
	}))

	nodeA, err := aInit.Init(aPriv)
	require.NoError(t, err)
	nodeB, err := bInit.Init(bPriv)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go nodeA.Listen(ctx)
	go nodeB.Listen(ctx)
	time.Sleep(100 * time.Millisecond)

	target, err := osp.ParseURL("osp://127.0.0.1:19321")
	require.NoError(t, err)

	subCtx, subCancel := context.WithTimeout(ctx, 5*time.Second)
	defer subCancel()
	require.NoError(t, nodeB.SubscribeTo(subCtx, target))

	time.Sleep(100 * time.Millisecond)

	bcastCtx, bcastCancel := context.WithTimeout(ctx, 5*time.Second)
	defer bcastCancel()
	require.NoError(t, nodeA.Broadcast(bcastCtx, pushedMessage{Value: 99887766}))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint32(99887766), received.Value)
}
