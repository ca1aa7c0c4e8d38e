package frame

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrNeedMore is returned by Decoder.Decode when fewer bytes are
// buffered than are needed to complete the next frame. It is not a
// fatal error: callers feed more bytes and retry, mirroring the
// tokio_util Decoder's Ok(None) "not yet" signal from the original
// Rust packet codec.
var ErrNeedMore = errors.New("frame: need more bytes")

// Decoder accumulates bytes read off a stream and splits them into
// frames: a little-endian u32 length prefix followed by that many
// bytes of payload. Partial buffers never advance past the last
// complete frame, matching spec.md §4.1's "partial buffers never
// advance the read cursor."
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly read bytes to the internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Buffered returns the number of bytes currently held but not yet
// consumed as a complete frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Decode attempts to split one frame's payload off the front of the
// buffer. It returns ErrNeedMore if not enough bytes have been fed
// yet, or ErrFrameTooLarge if the declared length exceeds MaxLength.
// On success the returned payload is a copy; the consumed bytes are
// dropped from the internal buffer.
func (d *Decoder) Decode() ([]byte, error) {
	if len(d.buf) < 4 {
		return nil, ErrNeedMore
	}

	length := binary.LittleEndian.Uint32(d.buf[:4])
	if length > MaxLength {
		return nil, errors.Wrapf(ErrFrameTooLarge, "declared length %d", length)
	}

	total := 4 + int(length)
	if len(d.buf) < total {
		return nil, ErrNeedMore
	}

	payload := make([]byte, length)
	copy(payload, d.buf[4:total])

	remaining := len(d.buf) - total
	copy(d.buf, d.buf[total:])
	d.buf = d.buf[:remaining]

	return payload, nil
}

// Encode serializes payload into a length-prefixed frame: a
// little-endian u32 length, then the payload bytes. It fails if
// payload would exceed MaxLength.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxLength {
		return nil, errors.Wrapf(ErrFrameTooLarge, "payload length %d", len(payload))
	}

	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}
