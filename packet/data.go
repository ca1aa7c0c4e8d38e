package packet

import "github.com/jython234/osp/frame"

// discDataPacket is DataPacket's sole discriminator; it is still a
// tagged union of one variant so the family is decoded the same way
// as every other family (spec.md §4.2.5).
const discDataPacket uint8 = 1

// DataPacket is the generic data envelope used when tunnelling a
// registered payload independent of the chunked transfer framing
// (spec.md §4.2.5).
type DataPacket struct {
	Data []byte
}

func (p DataPacket) Serialize(w *frame.Writer) {
	w.WriteU8(discDataPacket)
	w.WriteU64(uint64(len(p.Data)))
	w.WriteBytes(p.Data)
}

// DecodeDataPacket decodes a DataPacket from payload.
func DecodeDataPacket(payload []byte) (DataPacket, error) {
	r := frame.NewReader(payload)
	disc, err := r.ReadU8()
	if err != nil {
		return DataPacket{}, err
	}
	if disc != discDataPacket {
		return DataPacket{}, ErrInvalidDiscriminator
	}

	length, err := r.ReadU64()
	if err != nil {
		return DataPacket{}, err
	}
	if length > frame.MaxLength {
		return DataPacket{}, ErrPayloadTooLarge
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return DataPacket{}, err
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return DataPacket{Data: dataCopy}, nil
}
