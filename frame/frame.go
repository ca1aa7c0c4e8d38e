// Package frame implements the OSP wire framing: a little-endian u32
// length prefix followed by that many bytes of packet payload, plus
// the big-endian primitive encoders/decoders every packet family is
// built from. It generalizes the teacher's WriteUInt16/32/64 helpers
// (bytes_utility.go) into the full primitive set spec.md §4.1 needs.
package frame

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jython234/osp/oerrors"
)

// MaxLength is PACKET_MAX_LENGTH from spec.md §4.1: the largest
// payload a single frame may declare or encode.
const MaxLength = 8 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame's declared or encoded
// length exceeds MaxLength.
var ErrFrameTooLarge = oerrors.New(oerrors.KindProtocol, "frame too large")

// ErrInvalidUTF8 is returned when a decoded string is not valid UTF-8.
var ErrInvalidUTF8 = oerrors.New(oerrors.KindProtocol, "invalid utf8 in string")

// Writer accumulates a packet payload before it is framed. It mirrors
// the write-side half of the teacher's bytes_utility.go helpers,
// generalized to every primitive spec.md §4.1 names.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity hinted by size.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteI8(v int8) { w.WriteU8(uint8(v)) }

func (w *Writer) WriteU16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteI16(v int16) { w.WriteU16(uint16(v)) }

func (w *Writer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }

func (w *Writer) WriteU64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

func (w *Writer) WriteU128(v [16]byte) { w.buf = append(w.buf, v[:]...) }

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }

func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

// WriteString writes a u64 byte-length prefix followed by the UTF-8
// bytes of s.
func (w *Writer) WriteString(s string) {
	w.WriteU64(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteOptionalString writes a u8 presence flag, then the string if
// s is non-nil.
func (w *Writer) WriteOptionalString(s *string) {
	if s == nil {
		w.WriteU8(0)
		return
	}
	w.WriteU8(1)
	w.WriteString(*s)
}

// WriteUUID writes id as 16 raw bytes (a u128).
func (w *Writer) WriteUUID(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

// WriteOptionalUUID writes a u8 presence flag, then the UUID if id is
// non-nil.
func (w *Writer) WriteOptionalUUID(id *uuid.UUID) {
	if id == nil {
		w.WriteU8(0)
		return
	}
	w.WriteU8(1)
	w.WriteUUID(*id)
}

// WriteBytes writes b verbatim; the length is communicated by
// context, per spec.md §4.1's bytes(n) primitive.
func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }

// Reader walks a decoded payload left to right. A failed read may
// leave the cursor partway through a value (ReadString, for example,
// has already consumed the bytes it rejects as invalid UTF-8): callers
// should treat any error as fatal for the whole packet.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential primitive reads.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the bytes not yet consumed.
func (r *Reader) Remaining() []byte { return r.buf[r.pos:] }

func (r *Reader) need(n int) error {
	if len(r.buf)-r.pos < n {
		return errors.Wrapf(io.ErrUnexpectedEOF, "need %d bytes, have %d", n, len(r.buf)-r.pos)
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadString reads a u64 length prefix then that many UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadU64()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// ReadOptionalString reads a u8 presence flag and, if set, a string.
func (r *Reader) ReadOptionalString() (*string, error) {
	flag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if flag == 0 {
		return nil, nil
	}
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadUUID reads 16 raw bytes as a u128.
func (r *Reader) ReadUUID() (uuid.UUID, error) {
	if err := r.need(16); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], r.buf[r.pos:r.pos+16])
	r.pos += 16
	return id, nil
}

// ReadOptionalUUID reads a u8 presence flag and, if set, a UUID.
func (r *Reader) ReadOptionalUUID() (*uuid.UUID, error) {
	flag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if flag == 0 {
		return nil, nil
	}
	id, err := r.ReadUUID()
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

