package packet

import (
	"github.com/google/uuid"

	"github.com/jython234/osp/frame"
	"github.com/jython234/osp/osp"
)

// Discriminators for the handshake, guest→host family (spec.md §4.2.1).
const (
	discHello     uint8 = 1
	discIdentify  uint8 = 2
	discVerify    uint8 = 3
	discSetIntent uint8 = 4
)

// Discriminators for the handshake, host→guest family (spec.md §4.2.2).
const (
	discAcknowledge       uint8 = 1
	discChallenge         uint8 = 2
	discClose             uint8 = 3
	discChallengeResponse uint8 = 4
)

// ChallengeLength is the fixed size, in bytes, of the random
// challenge plaintext exchanged during the handshake (spec.md §4.2.1
// Verify, §4.5 step 3).
const ChallengeLength = 256

// --- Handshake, guest → host -----------------------------------------

// Hello is the first guest→host handshake packet: the guest's
// self-reported connection role.
type Hello struct {
	ConnectionType osp.ConnectionType
}

func (p Hello) Serialize(w *frame.Writer) {
	w.WriteU8(discHello)
	w.WriteU8(uint8(p.ConnectionType))
}

// Identify carries the guest's hostname, used by the host to look up
// the guest's public key via DNS TXT record.
type Identify struct {
	Hostname string
}

func (p Identify) Serialize(w *frame.Writer) {
	w.WriteU8(discIdentify)
	w.WriteString(p.Hostname)
}

// Verify returns the decrypted challenge plaintext and the nonce it
// was bound to.
type Verify struct {
	Nonce     uuid.UUID
	Challenge [ChallengeLength]byte
}

func (p Verify) Serialize(w *frame.Writer) {
	w.WriteU8(discVerify)
	w.WriteUUID(p.Nonce)
	w.WriteBytes(p.Challenge[:])
}

// SetIntent declares the guest's purpose once authenticated.
type SetIntent struct {
	Intent osp.Intent
}

func (p SetIntent) Serialize(w *frame.Writer) {
	w.WriteU8(discSetIntent)
	w.WriteU8(uint8(p.Intent))
}

// HandshakeIn is any decoded guest→host handshake packet.
type HandshakeIn interface {
	Packet
	isHandshakeIn()
}

func (Hello) isHandshakeIn()     {}
func (Identify) isHandshakeIn()  {}
func (Verify) isHandshakeIn()    {}
func (SetIntent) isHandshakeIn() {}

// DecodeHandshakeIn decodes a guest→host handshake packet from
// payload. Unknown discriminators return ErrInvalidDiscriminator.
func DecodeHandshakeIn(payload []byte) (HandshakeIn, error) {
	r := frame.NewReader(payload)
	disc, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	switch disc {
	case discHello:
		ct, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		return Hello{ConnectionType: osp.ConnectionTypeFromU8(ct)}, nil

	case discIdentify:
		hostname, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		return Identify{Hostname: hostname}, nil

	case discVerify:
		nonce, err := r.ReadUUID()
		if err != nil {
			return nil, err
		}
		challengeBytes, err := r.ReadBytes(ChallengeLength)
		if err != nil {
			return nil, err
		}
		var v Verify
		v.Nonce = nonce
		copy(v.Challenge[:], challengeBytes)
		return v, nil

	case discSetIntent:
		intent, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		return SetIntent{Intent: osp.IntentFromU8(intent)}, nil

	default:
		return nil, ErrInvalidDiscriminator
	}
}

// --- Handshake, host → guest ------------------------------------------

// Acknowledge responds to Hello.
type Acknowledge struct {
	OK  bool
	Err *string
}

func (p Acknowledge) Serialize(w *frame.Writer) {
	w.WriteU8(discAcknowledge)
	w.WriteU8(boolToU8(p.OK))
	w.WriteOptionalString(p.Err)
}

// Challenge carries the public-key-encrypted challenge and the nonce
// it is bound to.
type Challenge struct {
	EncryptedChallenge []byte
	Nonce              uuid.UUID
}

func (p Challenge) Serialize(w *frame.Writer) {
	w.WriteU8(discChallenge)
	w.WriteU64(uint64(len(p.EncryptedChallenge)))
	w.WriteBytes(p.EncryptedChallenge)
	w.WriteUUID(p.Nonce)
}

// Close terminates the handshake, optionally permitting the
// connection to proceed (CanContinue) and carrying a human-readable
// reason.
type Close struct {
	CanContinue bool
	Err         *string
}

func (p Close) Serialize(w *frame.Writer) {
	w.WriteU8(discClose)
	w.WriteU8(boolToU8(p.CanContinue))
	w.WriteOptionalString(p.Err)
}

// ChallengeResponse reports whether the guest's Verify matched.
type ChallengeResponse struct {
	Successful bool
}

func (p ChallengeResponse) Serialize(w *frame.Writer) {
	w.WriteU8(discChallengeResponse)
	w.WriteU8(boolToU8(p.Successful))
}

// HandshakeOut is any decoded host→guest handshake packet.
type HandshakeOut interface {
	Packet
	isHandshakeOut()
}

func (Acknowledge) isHandshakeOut()       {}
func (Challenge) isHandshakeOut()         {}
func (Close) isHandshakeOut()             {}
func (ChallengeResponse) isHandshakeOut() {}

// encryptedChallengeHeaderLength is the fixed part of a Challenge
// packet around EncryptedChallenge. DecodeHandshakeOut rejects a
// declared EncryptedChallenge length above frame.MaxLength minus this
// header before reading it.
const encryptedChallengeHeaderLength = 1 + 8 + 16 // discriminator + u64 len + uuid

// DecodeHandshakeOut decodes a host→guest handshake packet from
// payload.
func DecodeHandshakeOut(payload []byte) (HandshakeOut, error) {
	r := frame.NewReader(payload)
	disc, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	switch disc {
	case discAcknowledge:
		ok, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		errStr, err := r.ReadOptionalString()
		if err != nil {
			return nil, err
		}
		return Acknowledge{OK: ok != 0, Err: errStr}, nil

	case discChallenge:
		length, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		if length > frame.MaxLength-encryptedChallengeHeaderLength {
			return nil, ErrEncryptedChallengeTooLarge
		}
		encrypted, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}
		nonce, err := r.ReadUUID()
		if err != nil {
			return nil, err
		}
		encCopy := make([]byte, len(encrypted))
		copy(encCopy, encrypted)
		return Challenge{EncryptedChallenge: encCopy, Nonce: nonce}, nil

	case discClose:
		canContinue, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		errStr, err := r.ReadOptionalString()
		if err != nil {
			return nil, err
		}
		return Close{CanContinue: canContinue != 0, Err: errStr}, nil

	case discChallengeResponse:
		successful, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		return ChallengeResponse{Successful: successful != 0}, nil

	default:
		return nil, ErrInvalidDiscriminator
	}
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
