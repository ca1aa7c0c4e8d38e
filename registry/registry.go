// Package registry implements the OSP type-data registry of spec.md
// §4.3: two internally consistent indices — process-type-identity to
// codec, and TypeId to codec — kept atomically in sync by Register,
// plus per-type post-decode observers invoked by Dispatch.
//
// Go has no runtime equivalent of Rust's TypeId::of::<T>() tied to an
// associated constant, so the process-identity index is keyed by
// reflect.Type and the stable-identity index by a Typed value's
// TypeID() method, as SPEC_FULL.md §4.3 describes; both indices point
// at the same *Codec.
package registry

import (
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/jython234/osp/oerrors"
)

// Typed is implemented by every registrable data object; TypeID
// returns its stable, wire-carried identifier.
type Typed interface {
	TypeID() uuid.UUID
}

// EncodeFunc encodes a payload into bytes, returning the encoded
// bytes.
type EncodeFunc[T Typed] func(payload T) ([]byte, error)

// DecodeFunc decodes bytes into a payload, returning the number of
// bytes consumed.
type DecodeFunc[T Typed] func(data []byte) (T, int, error)

// ErrDuplicateTypeID is returned by Register when id is already
// present; the earlier registration stands.
var ErrDuplicateTypeID = oerrors.New(oerrors.KindRegistry, "registry: duplicate TypeId")

// ErrUnknownTypeID is returned by Dispatch/InstallObserver when no
// codec is registered for the requested id or process type.
var ErrUnknownTypeID = oerrors.New(oerrors.KindRegistry, "registry: unknown TypeId")

// Codec is the handle shared by both registry indices: the encoder,
// decoder, and observer list for one registered data type. Its encoder
// and decoder are fixed at Register; InstallObserver appends to its
// observer list.
// Both LookupByProcessType and LookupByTypeID return the identical
// *Codec pointer for a given registration.
type Codec struct {
	typeID    uuid.UUID
	procType  reflect.Type
	encode    func(payload any) ([]byte, error)
	decode    func(data []byte) (any, int, error)
	observers []func(any)
}

// TypeID returns this codec's stable identifier.
func (c *Codec) TypeID() uuid.UUID { return c.typeID }

// Encode invokes the underlying encoder on payload. payload must be
// assignable to the registered process type.
func (c *Codec) Encode(payload any) ([]byte, error) {
	return c.encode(payload)
}

// Registry is the shared, mutex-guarded type-data registry owned by
// one node (spec.md §4.3, §5 "read-mostly; mutated only via register
// / install_observer").
type Registry struct {
	mu     sync.Mutex
	byType map[reflect.Type]*Codec
	byID   map[uuid.UUID]*Codec
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*Codec),
		byID:   make(map[uuid.UUID]*Codec),
	}
}

// Register inserts a codec for T, deriving T's stable TypeId from its
// zero value's TypeID() method. Both indices are updated atomically
// under the registry's mutex. Registering a TypeId that is already
// present returns ErrDuplicateTypeID and leaves the earlier
// registration in place.
func Register[T Typed](r *Registry, encode EncodeFunc[T], decode DecodeFunc[T]) error {
	var zero T
	typeID := zero.TypeID()
	procType := reflect.TypeOf(zero)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[typeID]; exists {
		return ErrDuplicateTypeID
	}

	codec := &Codec{
		typeID:   typeID,
		procType: procType,
		encode: func(payload any) ([]byte, error) {
			typed, ok := payload.(T)
			if !ok {
				return nil, ErrUnknownTypeID
			}
			return encode(typed)
		},
		decode: func(data []byte) (any, int, error) {
			payload, n, err := decode(data)
			return payload, n, err
		},
	}

	r.byType[procType] = codec
	r.byID[typeID] = codec
	return nil
}

// LookupByProcessType returns the codec registered for T, if any.
func LookupByProcessType[T Typed](r *Registry) (*Codec, bool) {
	var zero T
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byType[reflect.TypeOf(zero)]
	return c, ok
}

// LookupByTypeID returns the codec registered for id, if any.
func (r *Registry) LookupByTypeID(id uuid.UUID) (*Codec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}

// LookupByRuntimeValue returns the codec registered for the concrete
// type of payload, looked up via reflect.TypeOf. This is what the
// outbound transfer path uses (spec.md §4.6: "Look up codec by the
// object's in-process type"), since the object arrives as a runtime
// value rather than a compile-time type parameter.
func (r *Registry) LookupByRuntimeValue(payload any) (*Codec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byType[reflect.TypeOf(payload)]
	return c, ok
}

// Contains reports whether id has a registered codec.
func (r *Registry) Contains(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	return ok
}

// InstallObserver appends a post-decode callback for T, invoked by
// Dispatch whenever an object of T's TypeId is fully received and
// decoded. Returns ErrUnknownTypeID if T was never registered.
func InstallObserver[T Typed](r *Registry, fn func(T)) error {
	var zero T
	r.mu.Lock()
	codec, ok := r.byType[reflect.TypeOf(zero)]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTypeID
	}

	adapter := func(payload any) {
		typed, ok := payload.(T)
		if !ok {
			return
		}
		fn(typed)
	}

	r.mu.Lock()
	codec.observers = append(codec.observers, adapter)
	r.mu.Unlock()
	return nil
}

// Dispatch decodes payload using the codec registered for id and
// invokes each installed observer, in registration order, on the
// decoded value. It is a no-op, and succeeds, if the codec has no
// observers. Returns ErrUnknownTypeID if id is not registered.
func (r *Registry) Dispatch(id uuid.UUID, payload []byte) error {
	r.mu.Lock()
	codec, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTypeID
	}

	decoded, _, err := codec.decode(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	observers := make([]func(any), len(codec.observers))
	copy(observers, codec.observers)
	r.mu.Unlock()

	for _, obs := range observers {
		obs(decoded)
	}
	return nil
}
