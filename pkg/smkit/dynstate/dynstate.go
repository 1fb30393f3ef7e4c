// Package dynstate implements the type-erased DynState wrapper: a
// (ModuleInstanceId, opaque payload bytes) pair, decoded back into a
// concrete, strongly-typed smkit.State via a per-module decoder registered
// at startup.
package dynstate

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
)

// Codec is the per-module, per-state-type bridge between a concrete Go
// value and its canonical encoding, equality, and hash. Modules implement
// one Codec per State type they define.
type Codec[S any] interface {
	Encode(s S) ([]byte, error)
	Decode(b []byte) (S, error)
	Equal(a, b S) bool
	Hash(s S) uint64
}

// DynState is a type-erased, instance-scoped wrapper around a typed state.
// Equality and hashing consider both the ModuleInstanceId and the payload.
type DynState struct {
	instanceID smkit.ModuleInstanceId
	inner      smkit.ErasedState
}

// ModuleInstanceID returns the module instance this state belongs to.
func (d DynState) ModuleInstanceID() smkit.ModuleInstanceId { return d.instanceID }

// OperationID returns the operation this machine belongs to.
func (d DynState) OperationID() smkit.OperationId { return d.inner.OperationID() }

// Equal implements instance-scoped equality: two DynStates are equal iff
// their ModuleInstanceIds are equal and their payloads compare equal.
func (d DynState) Equal(other DynState) bool {
	return d.instanceID == other.instanceID && d.inner.EqualIgnoringInstance(other.inner)
}

// Hash agrees with Equal.
func (d DynState) Hash() uint64 {
	h := fnv.New64a()
	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], uint16(d.instanceID))
	_, _ = h.Write(idBuf[:])
	payloadHash := d.inner.HashIgnoringInstance()
	var pBuf [8]byte
	binary.BigEndian.PutUint64(pBuf[:], payloadHash)
	_, _ = h.Write(pBuf[:])
	return h.Sum64()
}

// Clone returns an independent copy.
func (d DynState) Clone() DynState {
	return DynState{instanceID: d.instanceID, inner: d.inner.Clone()}
}

// Transitions downcasts ctx to the module's concrete context and returns the
// erased transition set.
func (d DynState) Transitions(ctx context.Context, moduleCtx smkit.Context, global smkit.GlobalContext) []smkit.ErasedTransition {
	return d.inner.Transitions(ctx, moduleCtx, global)
}

// Inner exposes the erased capability for packages (store, executor) that
// need to call methods not otherwise forwarded.
func (d DynState) Inner() smkit.ErasedState { return d.inner }

// FromErased rebuilds a DynState around an already-erased state, pairing it
// with the module instance it belongs to. The executor's driver uses this to
// turn a transition's ErasedState result back into the DynState it publishes
// and persists.
func FromErased(instanceID smkit.ModuleInstanceId, inner smkit.ErasedState) DynState {
	return DynState{instanceID: instanceID, inner: inner}
}

// CanonicalEncode produces the self-describing row encoding that
// Registry.Decode parses:
// <ModuleInstanceId: varint><opaque module payload: length-prefixed bytes>.
// The store's active and inactive keys do not use it; they carry the
// instance id as a fixed 2-byte prefix followed by Inner().CanonicalEncode().
func (d DynState) CanonicalEncode() ([]byte, error) {
	payload, err := d.inner.CanonicalEncode()
	if err != nil {
		return nil, fmt.Errorf("dynstate: encode payload: %w", err)
	}
	buf := make([]byte, 0, 10+len(payload))
	buf = appendUvarint(buf, uint64(d.instanceID))
	buf = appendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return buf, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// Wrap erases a concrete State[C] into a DynState using codec for its
// canonical encoding/equality/hash. No module context is taken here; the
// executor supplies the live module context per-call through Transitions,
// not at wrap time.
func Wrap[C smkit.Context](instanceID smkit.ModuleInstanceId, state smkit.State[C], codec Codec[smkit.State[C]]) DynState {
	return DynState{
		instanceID: instanceID,
		inner:      erasedOf[C]{instanceID: instanceID, state: state, codec: codec},
	}
}

type erasedOf[C smkit.Context] struct {
	instanceID smkit.ModuleInstanceId
	state      smkit.State[C]
	codec      Codec[smkit.State[C]]
}

func (e erasedOf[C]) ModuleInstanceID() smkit.ModuleInstanceId { return e.instanceID }
func (e erasedOf[C]) OperationID() smkit.OperationId           { return e.state.OperationID() }

func (e erasedOf[C]) CanonicalEncode() ([]byte, error) { return e.codec.Encode(e.state) }

func (e erasedOf[C]) EqualIgnoringInstance(other smkit.ErasedState) bool {
	o, ok := other.(erasedOf[C])
	if !ok {
		return false
	}
	return e.codec.Equal(e.state, o.state)
}

func (e erasedOf[C]) HashIgnoringInstance() uint64 { return e.codec.Hash(e.state) }

func (e erasedOf[C]) Clone() smkit.ErasedState { return e }

func (e erasedOf[C]) Transitions(ctx context.Context, moduleCtx smkit.Context, global smkit.GlobalContext) []smkit.ErasedTransition {
	concrete, ok := moduleCtx.(C)
	if !ok {
		panic(fmt.Sprintf("dynstate: wrong module context: expected %T, got %T", *new(C), moduleCtx))
	}
	typed := e.state.Transitions(ctx, concrete, global)
	out := make([]smkit.ErasedTransition, len(typed))
	for i, t := range typed {
		t := t
		out[i] = smkit.ErasedTransition{
			Trigger: t.Trigger,
			Apply: func(ctx context.Context, tx smkit.Tx, value []byte) (smkit.ErasedState, error) {
				successor, err := t.Apply(ctx, tx, value, e.state)
				if err != nil {
					return nil, err
				}
				return erasedOf[C]{instanceID: e.instanceID, state: successor, codec: e.codec}, nil
			},
		}
	}
	return out
}
