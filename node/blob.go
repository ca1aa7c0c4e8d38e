package node

import (
	"github.com/google/uuid"

	"github.com/jython234/osp/registry"
)

// rawBlobTypeID is the fixed TypeId of RawBlob, the CLI's own demo
// payload (cmd/ospnode broadcast/serve). spec.md §1 keeps concrete
// object types out of the core's scope; RawBlob exists only so
// cmd/ospnode has something registrable to push, the way a reference
// corpus CLI ships one example resource type around a library core.
var rawBlobTypeID = uuid.MustParse("8f14e45f-ceea-467e-bd63-6f4ee0d5c12a")

// RawBlob is an uninterpreted byte payload.
type RawBlob struct {
	Data []byte
}

// TypeID implements registry.Typed.
func (RawBlob) TypeID() uuid.UUID { return rawBlobTypeID }

func encodeRawBlob(b RawBlob) ([]byte, error) {
	return b.Data, nil
}

func decodeRawBlob(data []byte) (RawBlob, int, error) {
	return RawBlob{Data: data}, len(data), nil
}

// RegisterRawBlob installs the RawBlob codec into reg.
func RegisterRawBlob(reg *registry.Registry) error {
	return registry.Register(reg, encodeRawBlob, decodeRawBlob)
}
