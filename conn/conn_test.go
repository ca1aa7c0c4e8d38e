package conn

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

// fakeDNS answers ResolveTXT with a single fixed public key PEM (or an
// error when failTXT is set), standing in for a real _osp.<hostname>
// TXT record lookup in tests.
type fakeDNS struct {
	pubKeyPEM []byte
	failTXT   bool
}

func (f *fakeDNS) ResolveTXT(_ context.Context, _ string) ([][]byte, error) {
	if f.failTXT {
		return nil, assertFail("no TXT record")
	}
	return [][]byte{f.pubKeyPEM}, nil
}
func (f *fakeDNS) ResolveSRV(_ context.Context, _ string) ([]dns.SRVTarget, error) {
	return nil, nil
}
func (f *fakeDNS) ResolveA(_ context.Context, _ string) ([]net.IP, error) {
	return nil, nil
}

type testMessage struct {
	Value uint32
}

func (testMessage) TypeID() uuid.UUID {
	return uuid.MustParse("9eddbf56-8cba-4962-9769-dcc84f1eefae")
}

func encodeTestMessage(m testMessage) ([]byte, error) {
	b := make([]byte, 4)
	b[0] = byte(m.Value)
	b[1] = byte(m.Value >> 8)
	b[2] = byte(m.Value >> 16)
	b[3] = byte(m.Value >> 24)
	return b, nil
}

func decodeTestMessage(data []byte) (testMessage, int, error) {
	var v uint32
	for i := 0; i < 4 && i < len(data); i++ {
		v |= uint32(data[i]) << (8 * i)
	}
	return testMessage{Value: v}, 4, nil
}

func TestFullHandshakeAndTransfer(t *testing.T) {
	guestPriv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)
	guestPub := cryptoutil.EncodePublicKeyPEM(&guestPriv.PublicKey)

	hostConn, guestConn := net.Pipe()
	defer hostConn.Close()
	defer guestConn.Close()

	hostRegistry := registry.New()
	require.NoError(t, registry.Register(hostRegistry, encodeTestMessage, decodeTestMessage))
	guestRegistry := registry.New()
	require.NoError(t, registry.Register(guestRegistry, encodeTestMessage, decodeTestMessage))

	var received testMessage
	var mu sync.Mutex
	require.NoError(t, registry.InstallObserver(hostRegistry, func(m testMessage) {
		mu.Lock()
		received = m
		mu.Unlock()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hostErr, guestErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		hs := NewInboundHandshake(hostConn, &fakeDNS{pubKeyPEM: guestPub}, cryptoutil.NewRSAPort(), hostRegistry, nil, nil)
		transfer, intent, hostname, err := hs.Run(ctx)
		if err != nil {
			hostErr = err
			return
		}
		if intent != osp.IntentTransferData || hostname != "guest.example.com" {
			hostErr = assertFail("unexpected intent/hostname")
			return
		}
		hostErr = transfer.ReceiveOne(ctx)
	}()

	go func() {
		defer wg.Done()
		waiting := NewOutboundWaiting(osp.ConnectionTypeClient, "guest.example.com", guestPriv, cryptoutil.NewRSAPort(), nil, nil)
		hs := waiting.Dial(ctx, guestConn)
		ready, err := hs.Run(ctx)
		if err != nil {
			guestErr = err
			return
		}
		transfer, err := ready.Transfer(ctx, guestRegistry)
		if err != nil {
			guestErr = err
			return
		}
		guestErr = transfer.SendObject(ctx, testMessage{Value: 424242})
	}()

	wg.Wait()
	require.NoError(t, hostErr)
	require.NoError(t, guestErr)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint32(424242), received.Value)
}

func TestSubscribeIntentEndsWithoutTransfer(t *testing.T) {
	guestPriv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)
	guestPub := cryptoutil.EncodePublicKeyPEM(&guestPriv.PublicKey)

	hostConn, guestConn := net.Pipe()
	defer hostConn.Close()
	defer guestConn.Close()

	hostRegistry := registry.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hostIntent osp.Intent
	var hostErr, guestErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		hs := NewInboundHandshake(hostConn, &fakeDNS{pubKeyPEM: guestPub}, cryptoutil.NewRSAPort(), hostRegistry, nil, nil)
		next, intent, _, err := hs.Run(ctx)
		hostIntent = intent
		hostErr = err
		assert.Nil(t, next)
	}()

	go func() {
		defer wg.Done()
		waiting := NewOutboundWaiting(osp.ConnectionTypeClient, "guest.example.com", guestPriv, cryptoutil.NewRSAPort(), nil, nil)
		hs := waiting.Dial(ctx, guestConn)
		ready, err := hs.Run(ctx)
		if err != nil {
			guestErr = err
			return
		}
		guestErr = ready.Subscribe(ctx)
	}()

	wg.Wait()
	require.NoError(t, hostErr)
	require.NoError(t, guestErr)
	assert.Equal(t, osp.IntentSubscribe, hostIntent)
}

func TestChallengeFailureAbortsHandshake(t *testing.T) {
	wrongPriv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)
	attackerPriv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)
	attackerPub := cryptoutil.EncodePublicKeyPEM(&attackerPriv.PublicKey)

	hostConn, guestConn := net.Pipe()
	defer hostConn.Close()
	defer guestConn.Close()

	hostRegistry := registry.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hostErr, guestErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		hs := NewInboundHandshake(hostConn, &fakeDNS{pubKeyPEM: attackerPub}, cryptoutil.NewRSAPort(), hostRegistry, nil, nil)
		_, _, _, err := hs.Run(ctx)
		hostErr = err
	}()

	go func() {
		defer wg.Done()
		waiting := NewOutboundWaiting(osp.ConnectionTypeClient, "guest.example.com", wrongPriv, cryptoutil.NewRSAPort(), nil, nil)
		hs := waiting.Dial(ctx, guestConn)
		_, err := hs.Run(ctx)
		guestErr = err
		if err != nil {
			// Unblocks the host's pending read: the guest never sends
			// Verify once it fails to decrypt the challenge.
			_ = guestConn.Close()
		}
	}()

	wg.Wait()
	assert.Error(t, hostErr)
	assert.Error(t, guestErr)
}

func TestHostCloseDuringHandshakeSurfacesReasonToGuest(t *testing.T) {
	guestPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	hostConn, guestConn := net.Pipe()
	defer hostConn.Close()
	defer guestConn.Close()

	hostRegistry := registry.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hostErr, guestErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		hs := NewInboundHandshake(hostConn, &fakeDNS{failTXT: true}, cryptoutil.NewRSAPort(), hostRegistry, nil, nil)
		_, _, _, err := hs.Run(ctx)
		hostErr = err
	}()

	go func() {
		defer wg.Done()
		waiting := NewOutboundWaiting(osp.ConnectionTypeClient, "guest.example.com", guestPriv, cryptoutil.NewRSAPort(), nil, nil)
		hs := waiting.Dial(ctx, guestConn)
		_, err := hs.Run(ctx)
		guestErr = err
	}()

	wg.Wait()
	require.Error(t, hostErr)
	require.Error(t, guestErr)
	assert.Contains(t, guestErr.Error(), "could not resolve public key")
	assert.NotContains(t, guestErr.Error(), "got different packet")
}

func assertFail(msg string) error {
	return &simpleErr{msg}
}

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }
