// Package transport implements the connection transport of spec.md
// §4.4: a bidirectional byte stream (a net.Conn) layered with the
// frame codec, specialized to one (incoming, outgoing) packet family
// at a time, exposing Send and ReadOneFrame, plus RemapCodecs to swap codec
// families without discarding the underlying socket or any bytes
// already buffered.
package transport

import (
	"context"
	"io"
	"net"

	"github.com/jython234/osp/frame"
	"github.com/jython234/osp/oerrors"
	"github.com/jython234/osp/packet"
)

// ErrPeerClosed is returned by ReadOneFrame when the underlying
// connection reaches end-of-stream before a full frame arrives.
var ErrPeerClosed = oerrors.New(oerrors.KindTransport, "transport: peer closed the connection")

// DecodeFunc decodes one packet of family In from a frame's payload.
type DecodeFunc[In any] func(payload []byte) (In, error)

// Transport wraps conn with the frame codec, specialized to decode
// packets of family In and send packets of family Out. Out is a
// phantom type parameter enforced only at the Send call site.
type Transport[In any, Out packet.Packet] struct {
	conn     net.Conn
	decoder  *frame.Decoder
	decodeFn DecodeFunc[In]
}

// New wraps conn for the (In, Out) packet family pair.
func New[In any, Out packet.Packet](conn net.Conn, decodeFn DecodeFunc[In]) *Transport[In, Out] {
	return &Transport[In, Out]{
		conn:     conn,
		decoder:  frame.NewDecoder(),
		decodeFn: decodeFn,
	}
}

// Send serializes p, frames it, and writes it to the connection.
func (t *Transport[In, Out]) Send(p Out) error {
	payload := packet.Encode(p)
	framed, err := frame.Encode(payload)
	if err != nil {
		return oerrors.Wrap(oerrors.KindProtocol, err, "encode frame")
	}
	if _, err := t.conn.Write(framed); err != nil {
		return oerrors.Wrap(oerrors.KindTransport, err, "write frame")
	}
	return nil
}

// ReadOneFrame returns the next decoded packet of family In. It reads
// from the connection as many times as needed to complete a frame;
// ErrNeedMore from the decoder is handled internally. Reaching
// end-of-stream before a full frame arrives returns ErrPeerClosed.
func (t *Transport[In, Out]) ReadOneFrame(ctx context.Context) (In, error) {
	var zero In

	for {
		payload, err := t.decoder.Decode()
		if err == nil {
			decoded, err := t.decodeFn(payload)
			if err != nil {
				return zero, oerrors.Wrap(oerrors.KindProtocol, err, "decode packet")
			}
			return decoded, nil
		}
		if err != frame.ErrNeedMore {
			return zero, oerrors.Wrap(oerrors.KindProtocol, err, "decode frame")
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		buf := make([]byte, 64*1024)
		n, readErr := t.conn.Read(buf)
		if n > 0 {
			t.decoder.Feed(buf[:n])
		}
		if readErr != nil {
			if readErr == io.EOF {
				return zero, ErrPeerClosed
			}
			return zero, oerrors.Wrap(oerrors.KindTransport, readErr, "read from connection")
		}
	}
}

// Close closes the underlying connection.
func (t *Transport[In, Out]) Close() error {
	return t.conn.Close()
}

// RemapCodecs structurally replaces the packet family a Transport
// understands, preserving the underlying net.Conn and any bytes
// already buffered in the frame decoder (spec.md §4.4, Design Note
// "Codec remap across phases"). It is a standalone function, not a
// method, because Go methods cannot introduce new type parameters.
func RemapCodecs[OldIn any, OldOut packet.Packet, NewIn any, NewOut packet.Packet](
	t *Transport[OldIn, OldOut], decodeFn DecodeFunc[NewIn],
) *Transport[NewIn, NewOut] {
	return &Transport[NewIn, NewOut]{
		conn:     t.conn,
		decoder:  t.decoder,
		decodeFn: decodeFn,
	}
}
