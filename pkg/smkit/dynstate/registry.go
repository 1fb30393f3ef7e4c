package dynstate

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
)

// Decoder reconstructs a DynState from the opaque payload bytes previously
// produced by CanonicalEncode for one module instance. Decoding must be
// infallible for any value that was previously encoded by the same
// registry. A missing decoder is reported by Registry.Decode and
// Registry.DecodeWithInstance as ErrNoDecoder; the caller decides what to do
// with the row.
type Decoder func(payload []byte) (DynState, error)

// Registry maps a ModuleInstanceId to the decoder for whatever module is
// instantiated there. It is built once at client init and is immutable
// afterwards; all lookups are read-only.
type Registry struct {
	mu       sync.RWMutex
	decoders map[smkit.ModuleInstanceId]Decoder
	kinds    map[smkit.ModuleInstanceId]smkit.ModuleKind
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[smkit.ModuleInstanceId]Decoder),
		kinds:    make(map[smkit.ModuleInstanceId]smkit.ModuleKind),
	}
}

// Register associates a decoder with a module instance. Re-registering the
// same instance id is a programmer error and panics, since it would silently
// swap the interpretation of already-persisted rows.
func (r *Registry) Register(instanceID smkit.ModuleInstanceId, kind smkit.ModuleKind, dec Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[instanceID]; exists {
		panic(fmt.Sprintf("dynstate: module instance %d already registered", instanceID))
	}
	r.decoders[instanceID] = dec
	r.kinds[instanceID] = kind
}

// ErrNoDecoder is returned by Decode when no decoder is registered for the
// encoded row's module instance.
type ErrNoDecoder struct {
	InstanceID smkit.ModuleInstanceId
}

func (e ErrNoDecoder) Error() string {
	return fmt.Sprintf("dynstate: no decoder registered for module instance %d", e.InstanceID)
}

// Decode parses the row format produced by DynState.CanonicalEncode,
// <ModuleInstanceId varint><len varint><payload>, and dispatches to the
// instance's registered decoder.
func (r *Registry) Decode(row []byte) (DynState, error) {
	instanceIDVal, n := binary.Uvarint(row)
	if n <= 0 {
		return DynState{}, fmt.Errorf("dynstate: malformed row: instance id")
	}
	rest := row[n:]
	length, n2 := binary.Uvarint(rest)
	if n2 <= 0 {
		return DynState{}, fmt.Errorf("dynstate: malformed row: length prefix")
	}
	rest = rest[n2:]
	if uint64(len(rest)) < length {
		return DynState{}, fmt.Errorf("dynstate: malformed row: short payload")
	}
	payload := rest[:length]

	instanceID := smkit.ModuleInstanceId(instanceIDVal)
	r.mu.RLock()
	dec, ok := r.decoders[instanceID]
	r.mu.RUnlock()
	if !ok {
		return DynState{}, ErrNoDecoder{InstanceID: instanceID}
	}
	ds, err := dec(payload)
	if err != nil {
		return DynState{}, fmt.Errorf("dynstate: decode module %d: %w", instanceID, err)
	}
	return ds, nil
}

// DecodeWithInstance decodes payload using the decoder registered for
// instanceID directly, without expecting the varint instanceID prefix that
// Decode parses off a raw row. Callers that already know the instance id
// from context (e.g. the executor splitting it out of an active-bucket key)
// use this to avoid storing the instance id twice.
func (r *Registry) DecodeWithInstance(instanceID smkit.ModuleInstanceId, payload []byte) (DynState, error) {
	r.mu.RLock()
	dec, ok := r.decoders[instanceID]
	r.mu.RUnlock()
	if !ok {
		return DynState{}, ErrNoDecoder{InstanceID: instanceID}
	}
	ds, err := dec(payload)
	if err != nil {
		return DynState{}, fmt.Errorf("dynstate: decode module %d: %w", instanceID, err)
	}
	return ds, nil
}

// Kind returns the registered ModuleKind for an instance, if any.
func (r *Registry) Kind(instanceID smkit.ModuleInstanceId) (smkit.ModuleKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[instanceID]
	return k, ok
}
