package packet

import (
	"github.com/google/uuid"

	"github.com/jython234/osp/frame"
)

// Discriminators for the transfer, guest→host family (spec.md §4.2.3).
const (
	discIdentifyObject uint8 = 1
	discSendChunk      uint8 = 2
)

// Discriminator for the transfer, host→guest family (spec.md §4.2.4).
const discAcknowledgeObject uint8 = 1

// IdentifyObject announces an object the guest is about to push:
// its stable type id, total byte length, and chunk count.
type IdentifyObject struct {
	DataID     uuid.UUID
	DataLen    uint64
	DataChunks uint64
}

func (p IdentifyObject) Serialize(w *frame.Writer) {
	w.WriteU8(discIdentifyObject)
	w.WriteUUID(p.DataID)
	w.WriteU64(p.DataLen)
	w.WriteU64(p.DataChunks)
}

// SendChunk carries one chunk of an object's payload. Done is true
// only on the last chunk.
type SendChunk struct {
	Data []byte
	Done bool
}

func (p SendChunk) Serialize(w *frame.Writer) {
	w.WriteU8(discSendChunk)
	w.WriteU64(uint64(len(p.Data)))
	w.WriteBytes(p.Data)
	w.WriteU8(boolToU8(p.Done))
}

// TransferIn is any decoded transfer, guest→host packet.
type TransferIn interface {
	Packet
	isTransferIn()
}

func (IdentifyObject) isTransferIn() {}
func (SendChunk) isTransferIn()      {}

// DecodeTransferIn decodes a guest→host transfer packet from payload.
func DecodeTransferIn(payload []byte) (TransferIn, error) {
	r := frame.NewReader(payload)
	disc, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	switch disc {
	case discIdentifyObject:
		id, err := r.ReadUUID()
		if err != nil {
			return nil, err
		}
		dataLen, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		dataChunks, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		return IdentifyObject{DataID: id, DataLen: dataLen, DataChunks: dataChunks}, nil

	case discSendChunk:
		length, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		if length > frame.MaxLength {
			return nil, ErrPayloadTooLarge
		}
		data, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}
		done, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		return SendChunk{Data: dataCopy, Done: done != 0}, nil

	default:
		return nil, ErrInvalidDiscriminator
	}
}

// AcknowledgeObject responds to IdentifyObject: whether the host is
// willing to receive the announced object.
type AcknowledgeObject struct {
	CanSend bool
}

func (p AcknowledgeObject) Serialize(w *frame.Writer) {
	w.WriteU8(discAcknowledgeObject)
	w.WriteU8(boolToU8(p.CanSend))
}

// TransferOut is any decoded transfer, host→guest packet.
type TransferOut interface {
	Packet
	isTransferOut()
}

func (AcknowledgeObject) isTransferOut() {}

// DecodeTransferOut decodes a host→guest transfer packet from payload.
func DecodeTransferOut(payload []byte) (TransferOut, error) {
	r := frame.NewReader(payload)
	disc, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	switch disc {
	case discAcknowledgeObject:
		canSend, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		return AcknowledgeObject{CanSend: canSend != 0}, nil

	default:
		return nil, ErrInvalidDiscriminator
	}
}
