package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jython234/osp/osp"
	"github.com/jython234/osp/packet"
)

func handshakeTransports(a, b net.Conn) (
	*Transport[packet.HandshakeIn, packet.HandshakeOut],
	*Transport[packet.HandshakeOut, packet.HandshakeIn],
) {
	server := New[packet.HandshakeIn, packet.HandshakeOut](a, packet.DecodeHandshakeIn)
	client := New[packet.HandshakeOut, packet.HandshakeIn](b, packet.DecodeHandshakeOut)
	return server, client
}

func TestSendAndReadOneFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server, client := handshakeTransports(a, b)

	go func() {
		_ = server.Send(packet.Acknowledge{OK: true})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := client.ReadOneFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.Acknowledge{OK: true}, got)
}

func TestReadOneFrameReturnsPeerClosed(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	_, client := handshakeTransports(a, b)

	go func() {
		_ = a.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.ReadOneFrame(ctx)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestRemapCodecsReusesConnection(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server, client := handshakeTransports(a, b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, server.Send(packet.Close{CanContinue: true}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := client.ReadOneFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.Close{CanContinue: true}, got)
	<-done

	transferClient := RemapCodecs[packet.HandshakeOut, packet.HandshakeIn,
		packet.TransferOut, packet.TransferIn](client, packet.DecodeTransferOut)

	go func() {
		transferServer := New[packet.TransferIn, packet.TransferOut](a, packet.DecodeTransferIn)
		_ = transferServer.Send(packet.AcknowledgeObject{CanSend: true})
	}()

	ack, err := transferClient.ReadOneFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.AcknowledgeObject{CanSend: true}, ack)
}

func TestHelloSerializesConnectionType(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := New[packet.HandshakeIn, packet.HandshakeOut](a, packet.DecodeHandshakeIn)
	client := New[packet.HandshakeOut, packet.HandshakeIn](b, packet.DecodeHandshakeOut)

	go func() {
		_ = client.Send(packet.Hello{ConnectionType: osp.ConnectionTypeClient})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := server.ReadOneFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.Hello{ConnectionType: osp.ConnectionTypeClient}, got)
}
