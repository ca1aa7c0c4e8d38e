// Package packet implements the five OSP packet families of spec.md
// §4.2: handshake guest→host and host→guest, transfer guest→host and
// host→guest, and the generic data envelope. Each family is a tagged
// union discriminated by a leading byte; fields follow in declaration
// order using the frame package's primitives.
package packet

import (
	"github.com/jython234/osp/frame"
	"github.com/jython234/osp/oerrors"
)

// ErrInvalidDiscriminator is returned when a payload's leading byte
// does not match any variant of the family being decoded.
var ErrInvalidDiscriminator = oerrors.New(oerrors.KindProtocol, "invalid data: unknown discriminator")

// ErrEncryptedChallengeTooLarge is returned when a Challenge packet's
// declared encrypted_challenge length would push the frame past
// frame.MaxLength once its fixed header is accounted for.
var ErrEncryptedChallengeTooLarge = oerrors.New(oerrors.KindProtocol, "invalid data: encrypted challenge too large")

// ErrPayloadTooLarge is returned when a length-prefixed field (a
// SendChunk's data, a DataPacket's data) declares more bytes than a
// single frame could ever carry.
var ErrPayloadTooLarge = oerrors.New(oerrors.KindProtocol, "invalid data: declared payload too large")

// Packet is implemented by every variant of every family. Serialize
// writes the discriminator byte and the variant's fields, in that
// order, into w.
type Packet interface {
	Serialize(w *frame.Writer)
}

// Encode serializes p into a freshly allocated buffer, ready to be
// handed to frame.Encode. It is the Go-native replacement for the
// original SerializePacket trait's buffer-returning serialize method.
func Encode(p Packet) []byte {
	w := frame.NewWriter(256)
	p.Serialize(w)
	return w.Bytes()
}
