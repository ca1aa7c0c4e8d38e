// Package conn implements the two typestate connection state machines
// of spec.md §4.5/§4.6: InboundHandshake → InboundTransfer on the
// accepting side, and OutboundWaiting → OutboundHandshake →
// OutboundReady → OutboundTransfer on the dialing side.
package conn

import (
	"context"
	"crypto/rand"
	"errors"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jython234/osp/cryptoutil"
	"github.com/jython234/osp/dns"
	"github.com/jython234/osp/metrics"
	"github.com/jython234/osp/oerrors"
	"github.com/jython234/osp/osp"
	"github.com/jython234/osp/packet"
	"github.com/jython234/osp/registry"
	"github.com/jython234/osp/transport"
)

type inHandshakeTransport = transport.Transport[packet.HandshakeIn, packet.HandshakeOut]
type inTransferTransport = transport.Transport[packet.TransferIn, packet.TransferOut]

// InboundHandshake is the server side of the handshake typestate
// (spec.md §4.5): a freshly accepted socket that has not yet
// authenticated its peer.
type InboundHandshake struct {
	transport      *inHandshakeTransport
	connectionType osp.ConnectionType
	nonce          uuid.UUID
	dnsPort        dns.Port
	crypto         cryptoutil.Port
	registry       *registry.Registry
	metrics        *metrics.Collector
	log            *logrus.Entry
}

// NewInboundHandshake wraps an accepted net.Conn for the server side
// of the handshake. collector may be nil.
func NewInboundHandshake(c net.Conn, dnsPort dns.Port, crypto cryptoutil.Port, reg *registry.Registry, collector *metrics.Collector, log *logrus.Entry) *InboundHandshake {
	return &InboundHandshake{
		transport:      transport.New[packet.HandshakeIn, packet.HandshakeOut](c, packet.DecodeHandshakeIn),
		connectionType: osp.ConnectionTypeUnknown,
		nonce:          uuid.New(),
		dnsPort:        dnsPort,
		crypto:         crypto,
		registry:       reg,
		metrics:        collector,
		log:            log,
	}
}

// closeBestEffort sends a Close packet on a best-effort basis; its
// own failure never masks the original error (spec.md §4.5 "failure
// to emit the close packet does not mask the original error").
func (h *InboundHandshake) closeBestEffort(canContinue bool, reason string) {
	msg := reason
	_ = h.transport.Send(packet.Close{CanContinue: canContinue, Err: &msg})
}

// Run drives the full server-side handshake: Hello, Identify,
// Challenge/Verify, SetIntent. On success it returns the guest's
// declared intent and hostname; for IntentTransferData it also
// returns the InboundTransfer typestate the caller should continue
// with. For IntentSubscribe, next is nil: the connection is closed by
// the protocol (spec.md §4.5 step 5) and the caller records the
// subscription.
func (h *InboundHandshake) Run(ctx context.Context) (next *InboundTransfer, intent osp.Intent, hostname string, err error) {
	if err := h.expectHello(ctx); err != nil {
		return nil, osp.IntentUnknown, "", err
	}

	hostname, err = h.expectIdentify(ctx)
	if err != nil {
		return nil, osp.IntentUnknown, "", err
	}

	if err := h.challengeAndVerify(ctx, hostname); err != nil {
		return nil, osp.IntentUnknown, "", err
	}

	intent, err = h.expectSetIntent(ctx)
	if err != nil {
		return nil, osp.IntentUnknown, "", err
	}

	switch intent {
	case osp.IntentSubscribe:
		if err := h.transport.Send(packet.Close{CanContinue: false, Err: nil}); err != nil {
			return nil, intent, hostname, oerrors.Wrap(oerrors.KindTransport, err, "send close after subscribe")
		}
		return nil, osp.IntentSubscribe, hostname, nil

	case osp.IntentTransferData:
		if err := h.transport.Send(packet.Close{CanContinue: true, Err: nil}); err != nil {
			return nil, intent, hostname, oerrors.Wrap(oerrors.KindTransport, err, "send close before transfer")
		}
		transferTransport := transport.RemapCodecs[packet.HandshakeIn, packet.HandshakeOut,
			packet.TransferIn, packet.TransferOut](h.transport, packet.DecodeTransferIn)
		return &InboundTransfer{
			transport: transferTransport,
			registry:  h.registry,
			metrics:   h.metrics,
			log:       h.log,
		}, osp.IntentTransferData, hostname, nil

	default:
		h.closeBestEffort(false, "unknown intent")
		return nil, intent, hostname, oerrors.New(oerrors.KindProtocol, "unknown intent")
	}
}

func (h *InboundHandshake) expectHello(ctx context.Context) error {
	pkt, err := h.transport.ReadOneFrame(ctx)
	if err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "read hello")
	}
	hello, ok := pkt.(packet.Hello)
	if !ok {
		h.closeBestEffort(false, "expected hello")
		return oerrors.New(oerrors.KindProtocol, "expected hello, got different packet")
	}
	h.connectionType = hello.ConnectionType

	if err := h.transport.Send(packet.Acknowledge{OK: true, Err: nil}); err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "send acknowledge")
	}
	return nil
}

func (h *InboundHandshake) expectIdentify(ctx context.Context) (string, error) {
	pkt, err := h.transport.ReadOneFrame(ctx)
	if err != nil {
		return "", oerrors.Wrap(oerrors.KindTransport, err, "read identify")
	}
	identify, ok := pkt.(packet.Identify)
	if !ok {
		h.closeBestEffort(false, "expected identify")
		return "", oerrors.New(oerrors.KindProtocol, "expected identify, got different packet")
	}
	return identify.Hostname, nil
}

func (h *InboundHandshake) challengeAndVerify(ctx context.Context, hostname string) error {
	label := dns.OSPLabel(hostname)
	records, err := h.dnsPort.ResolveTXT(ctx, label)
	if err != nil || len(records) == 0 {
		h.closeBestEffort(false, "could not resolve public key at "+label)
		if err == nil {
			return oerrors.New(oerrors.KindResolution, "no TXT record for "+label)
		}
		return oerrors.Wrap(oerrors.KindResolution, err, "resolve TXT for "+label)
	}

	pub, err := cryptoutil.ParsePublicKey(records[0])
	if err != nil {
		h.closeBestEffort(false, "invalid public key at "+label)
		return oerrors.Wrap(oerrors.KindAuth, err, "parse public key")
	}

	challenge := make([]byte, packet.ChallengeLength)
	if _, err := rand.Read(challenge); err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "generate challenge")
	}

	encrypted, err := h.crypto.Encrypt(pub, challenge)
	if err != nil {
		h.closeBestEffort(false, "failed to encrypt challenge")
		return oerrors.Wrap(oerrors.KindAuth, err, "encrypt challenge")
	}

	if err := h.transport.Send(packet.Challenge{EncryptedChallenge: encrypted, Nonce: h.nonce}); err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "send challenge")
	}

	pkt, err := h.transport.ReadOneFrame(ctx)
	if err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "read verify")
	}
	verify, ok := pkt.(packet.Verify)
	if !ok {
		h.closeBestEffort(false, "expected verify")
		return oerrors.New(oerrors.KindProtocol, "expected verify, got different packet")
	}

	if verify.Nonce != h.nonce {
		h.closeBestEffort(false, "Invalid nonce")
		return oerrors.New(oerrors.KindAuth, "invalid nonce")
	}
	if !bytesEqual(verify.Challenge[:], challenge) {
		h.closeBestEffort(false, "Challenge failed")
		return oerrors.New(oerrors.KindAuth, "challenge failed")
	}

	if err := h.transport.Send(packet.ChallengeResponse{Successful: true}); err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "send challenge response")
	}
	return nil
}

func (h *InboundHandshake) expectSetIntent(ctx context.Context) (osp.Intent, error) {
	pkt, err := h.transport.ReadOneFrame(ctx)
	if err != nil {
		return osp.IntentUnknown, oerrors.Wrap(oerrors.KindTransport, err, "read set intent")
	}
	setIntent, ok := pkt.(packet.SetIntent)
	if !ok {
		h.closeBestEffort(false, "expected set intent")
		return osp.IntentUnknown, oerrors.New(oerrors.KindProtocol, "expected set intent, got different packet")
	}
	return setIntent.Intent, nil
}

// InboundTransfer is the typestate an InboundHandshake advances to on
// a successful TransferData intent (spec.md §4.5). The inbound side
// is the receiver: for each object the guest pushes, it acknowledges,
// reassembles the chunks, and dispatches to the registry.
type InboundTransfer struct {
	transport *inTransferTransport
	registry  *registry.Registry
	metrics   *metrics.Collector
	log       *logrus.Entry

	// CanAccept decides whether to accept an announced object. The
	// default policy is "is data_id registered?"; callers may supply
	// a stricter policy (spec.md §4.5: "policy: at minimum ... is
	// data_id registered? — extensible").
	CanAccept func(dataID uuid.UUID) bool
}

// ReceiveOne receives and dispatches exactly one object, per spec.md
// §4.5's transfer loop. Callers loop calling ReceiveOne until the
// peer closes the connection.
func (t *InboundTransfer) ReceiveOne(ctx context.Context) error {
	pkt, err := t.transport.ReadOneFrame(ctx)
	if err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "read identify object")
	}
	identify, ok := pkt.(packet.IdentifyObject)
	if !ok {
		return oerrors.New(oerrors.KindProtocol, "expected identify object, got different packet")
	}

	canAccept := t.CanAccept
	if canAccept == nil {
		canAccept = t.registry.Contains
	}
	canSend := canAccept(identify.DataID)

	if err := t.transport.Send(packet.AcknowledgeObject{CanSend: canSend}); err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "send acknowledge object")
	}
	if !canSend {
		return nil
	}

	data := make([]byte, 0, identify.DataLen)
	var chunksReceived uint64
	for chunksReceived < identify.DataChunks {
		pkt, err := t.transport.ReadOneFrame(ctx)
		if err != nil {
			return oerrors.Wrap(oerrors.KindTransport, err, "read send chunk")
		}
		chunk, ok := pkt.(packet.SendChunk)
		if !ok {
			return oerrors.New(oerrors.KindProtocol, "expected send chunk, got different packet")
		}

		chunksReceived++
		isLast := chunksReceived == identify.DataChunks
		if chunk.Done != isLast {
			return oerrors.New(oerrors.KindProtocol, "chunk done flag disagrees with chunk count")
		}
		data = append(data, chunk.Data...)
	}

	if uint64(len(data)) != identify.DataLen {
		return oerrors.New(oerrors.KindProtocol, "chunk sum disagrees with declared data_len")
	}

	if t.metrics != nil {
		t.metrics.ObjectBytesRecv.Observe(float64(len(data)))
	}

	if err := t.registry.Dispatch(identify.DataID, data); err != nil {
		if errors.Is(err, registry.ErrUnknownTypeID) {
			if t.log != nil {
				t.log.WithField("data_id", identify.DataID).Warn("dispatch: unknown data_id, skipping")
			}
			return nil
		}
		return oerrors.Wrap(oerrors.KindProtocol, err, "dispatch object")
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
