package conn

import (
	"context"
	"crypto/rsa"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/jython234/osp/cryptoutil"
	"github.com/jython234/osp/frame"
	"github.com/jython234/osp/metrics"
	"github.com/jython234/osp/oerrors"
	"github.com/jython234/osp/osp"
	"github.com/jython234/osp/packet"
	"github.com/jython234/osp/registry"
	"github.com/jython234/osp/transport"
)

type outHandshakeTransport = transport.Transport[packet.HandshakeOut, packet.HandshakeIn]
type outTransferTransport = transport.Transport[packet.TransferOut, packet.TransferIn]

// OutboundWaiting is the pre-handshake typestate of a dialing
// connection (spec.md §4.6): it knows how to reach a peer and
// identify itself, but has not yet opened the socket.
type OutboundWaiting struct {
	connectionType osp.ConnectionType
	hostname       string
	privateKey     *rsa.PrivateKey
	crypto         cryptoutil.Port
	metrics        *metrics.Collector
	log            *logrus.Entry
}

// NewOutboundWaiting constructs the pre-dial typestate. hostname is
// this node's own identity, announced via Identify and used by the
// peer to resolve this node's public key. collector may be nil.
func NewOutboundWaiting(connectionType osp.ConnectionType, hostname string, privateKey *rsa.PrivateKey, crypto cryptoutil.Port, collector *metrics.Collector, log *logrus.Entry) *OutboundWaiting {
	return &OutboundWaiting{
		connectionType: connectionType,
		hostname:       hostname,
		privateKey:     privateKey,
		crypto:         crypto,
		metrics:        collector,
		log:            log,
	}
}

// Dial opens conn as the guest side of the handshake and advances to
// the OutboundHandshake typestate. The caller is responsible for
// establishing the net.Conn itself (spec.md §4.6 treats SRV/A
// resolution and dialing as the caller's job, ahead of the protocol
// handshake).
func (w *OutboundWaiting) Dial(_ context.Context, c net.Conn) *OutboundHandshake {
	return &OutboundHandshake{
		transport:      transport.New[packet.HandshakeOut, packet.HandshakeIn](c, packet.DecodeHandshakeOut),
		connectionType: w.connectionType,
		hostname:       w.hostname,
		privateKey:     w.privateKey,
		crypto:         w.crypto,
		metrics:        w.metrics,
		log:            w.log,
	}
}

// OutboundHandshake is the guest side of the handshake typestate: it
// has a live socket and drives Hello/Identify/Verify/SetIntent
// against the accepting peer.
type OutboundHandshake struct {
	transport      *outHandshakeTransport
	connectionType osp.ConnectionType
	hostname       string
	privateKey     *rsa.PrivateKey
	crypto         cryptoutil.Port
	metrics        *metrics.Collector
	log            *logrus.Entry
}

// closeErr extracts the host's failure reason from a Close packet
// received in place of an expected handshake packet (spec.md §4.6: a
// Close with CanContinue false is a terminal failure whose Err is the
// reason). ok is false if pkt is not a Close packet.
func closeErr(pkt any) (err error, ok bool) {
	closePkt, ok := pkt.(packet.Close)
	if !ok {
		return nil, false
	}
	reason := "closed by peer"
	if closePkt.Err != nil {
		reason = *closePkt.Err
	}
	return oerrors.New(oerrors.KindProtocol, reason), true
}

// Run drives Hello/Acknowledge, Identify, and the challenge/verify
// exchange, leaving the connection authenticated but without an
// intent set yet (spec.md §4.6 steps 1-4). Callers continue with
// Subscribe or Transfer to complete the handshake.
func (h *OutboundHandshake) Run(ctx context.Context) (*OutboundReady, error) {
	if err := h.transport.Send(packet.Hello{ConnectionType: h.connectionType}); err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "send hello")
	}
	pkt, err := h.transport.ReadOneFrame(ctx)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "read acknowledge")
	}
	ack, ok := pkt.(packet.Acknowledge)
	if !ok {
		if err, isClose := closeErr(pkt); isClose {
			return nil, err
		}
		return nil, oerrors.New(oerrors.KindProtocol, "expected acknowledge, got different packet")
	}
	if !ack.OK {
		reason := "rejected by peer"
		if ack.Err != nil {
			reason = *ack.Err
		}
		return nil, oerrors.New(oerrors.KindProtocol, "hello rejected: "+reason)
	}

	if err := h.transport.Send(packet.Identify{Hostname: h.hostname}); err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "send identify")
	}

	pkt, err = h.transport.ReadOneFrame(ctx)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "read challenge")
	}
	challenge, ok := pkt.(packet.Challenge)
	if !ok {
		if err, isClose := closeErr(pkt); isClose {
			return nil, err
		}
		return nil, oerrors.New(oerrors.KindProtocol, "expected challenge, got different packet")
	}

	plaintext, err := h.crypto.Decrypt(h.privateKey, challenge.EncryptedChallenge)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindAuth, err, "decrypt challenge")
	}

	var response [packet.ChallengeLength]byte
	copy(response[:], plaintext)
	if err := h.transport.Send(packet.Verify{Nonce: challenge.Nonce, Challenge: response}); err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "send verify")
	}

	pkt, err = h.transport.ReadOneFrame(ctx)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "read challenge response")
	}
	resp, ok := pkt.(packet.ChallengeResponse)
	if !ok {
		if err, isClose := closeErr(pkt); isClose {
			return nil, err
		}
		return nil, oerrors.New(oerrors.KindProtocol, "expected challenge response, got different packet")
	}
	if !resp.Successful {
		return nil, oerrors.New(oerrors.KindAuth, "challenge failed")
	}

	return &OutboundReady{transport: h.transport, metrics: h.metrics, log: h.log}, nil
}

// OutboundReady is an authenticated guest connection that has not yet
// declared its intent (spec.md §4.6 step 5 onward).
type OutboundReady struct {
	transport *outHandshakeTransport
	metrics   *metrics.Collector
	log       *logrus.Entry
}

// Subscribe declares IntentSubscribe and waits for the host's Close,
// per spec.md's resolved Open Question: a subscription carries no
// payload of its own, so the connection ends here and the caller
// tracks the subscription out of band (e.g. a future push connection
// from the host).
func (r *OutboundReady) Subscribe(ctx context.Context) error {
	if err := r.transport.Send(packet.SetIntent{Intent: osp.IntentSubscribe}); err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "send set intent")
	}
	pkt, err := r.transport.ReadOneFrame(ctx)
	if err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "read close")
	}
	closePkt, ok := pkt.(packet.Close)
	if !ok {
		return oerrors.New(oerrors.KindProtocol, "expected close, got different packet")
	}
	if closePkt.CanContinue {
		return oerrors.New(oerrors.KindProtocol, "host allowed continuation after subscribe, protocol violation")
	}
	return r.transport.Close()
}

// Transfer declares IntentTransferData and advances to the
// OutboundTransfer typestate once the host acknowledges with a
// continuable Close (spec.md §4.6 step 6).
func (r *OutboundReady) Transfer(ctx context.Context, reg *registry.Registry) (*OutboundTransfer, error) {
	if err := r.transport.Send(packet.SetIntent{Intent: osp.IntentTransferData}); err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "send set intent")
	}
	pkt, err := r.transport.ReadOneFrame(ctx)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindTransport, err, "read close")
	}
	closePkt, ok := pkt.(packet.Close)
	if !ok {
		return nil, oerrors.New(oerrors.KindProtocol, "expected close, got different packet")
	}
	if !closePkt.CanContinue {
		reason := "rejected"
		if closePkt.Err != nil {
			reason = *closePkt.Err
		}
		return nil, oerrors.New(oerrors.KindProtocol, "host refused transfer: "+reason)
	}

	transferTransport := transport.RemapCodecs[packet.HandshakeOut, packet.HandshakeIn,
		packet.TransferOut, packet.TransferIn](r.transport, packet.DecodeTransferOut)
	return &OutboundTransfer{transport: transferTransport, registry: reg, metrics: r.metrics, log: r.log}, nil
}

// maxChunkPayload is the largest SendChunk.Data slice that still
// leaves room for the chunk's own fields inside one frame.MaxLength
// payload: a SendChunk adds 10 bytes around its data (1 discriminator,
// 8 length prefix, 1 done flag).
const maxChunkPayload = frame.MaxLength - 10

// OutboundTransfer is the typestate that pushes objects to a peer
// that accepted IntentTransferData (spec.md §4.6). The outbound side
// is the sender: it looks up a codec by the object's in-process type,
// announces the object, and on acceptance streams it as chunks.
type OutboundTransfer struct {
	transport *outTransferTransport
	registry  *registry.Registry
	metrics   *metrics.Collector
	log       *logrus.Entry
}

// SendObject encodes obj via the registry's codec for its runtime
// type and pushes it to the peer. It returns nil (not an error) when
// the peer declines the object via AcknowledgeObject{CanSend: false};
// that is a normal, expected outcome of the transfer protocol.
func (t *OutboundTransfer) SendObject(ctx context.Context, obj registry.Typed) error {
	codec, ok := t.registry.LookupByRuntimeValue(obj)
	if !ok {
		return oerrors.Wrap(oerrors.KindRegistry, registry.ErrUnknownTypeID, "no codec registered for object")
	}
	encoded, err := codec.Encode(obj)
	if err != nil {
		return oerrors.Wrap(oerrors.KindProtocol, err, "encode object")
	}

	numChunks := 1
	if len(encoded) > 0 {
		numChunks = (len(encoded) + maxChunkPayload - 1) / maxChunkPayload
	}

	if err := t.transport.Send(packet.IdentifyObject{
		DataID:     codec.TypeID(),
		DataLen:    uint64(len(encoded)),
		DataChunks: uint64(numChunks),
	}); err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "send identify object")
	}

	pkt, err := t.transport.ReadOneFrame(ctx)
	if err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "read acknowledge object")
	}
	ack, ok := pkt.(packet.AcknowledgeObject)
	if !ok {
		return oerrors.New(oerrors.KindProtocol, "expected acknowledge object, got different packet")
	}
	if !ack.CanSend {
		if t.log != nil {
			t.log.WithField("data_id", codec.TypeID()).Warn("peer declined object")
		}
		return nil
	}

	if t.metrics != nil {
		t.metrics.ObjectBytesSent.Observe(float64(len(encoded)))
	}

	for i := 0; i < numChunks; i++ {
		start := i * maxChunkPayload
		end := start + maxChunkPayload
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk := packet.SendChunk{Data: encoded[start:end], Done: i == numChunks-1}
		if err := t.transport.Send(chunk); err != nil {
			return oerrors.Wrap(oerrors.KindTransport, err, "send chunk")
		}
	}
	return nil
}

// Close closes the underlying connection.
func (t *OutboundTransfer) Close() error {
	return t.transport.Close()
}
