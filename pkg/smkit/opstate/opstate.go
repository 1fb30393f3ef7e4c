// Package opstate implements the OperationState wrapper: many states inside
// the same operation want to inherit the same OperationId without carrying
// it explicitly. OperationState stores the id once and delegates transition
// enumeration to the wrapped inner state, rewrapping every successor so the
// id is never lost across a transition.
package opstate

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
)

// Inner is implemented by a module's bare state payload: it knows how to
// enumerate its own transitions (among other bare Inner values) but does not
// know its operation id. I is itself, so a transition's successor is always
// another Inner.
type Inner[C smkit.Context, I any] interface {
	Transitions(ctx context.Context, moduleCtx C, global smkit.GlobalContext) []smkit.StateTransition[I]
}

// OperationState wraps an inner state with the operation id it belongs to.
// I is constrained to Inner[C, I] so OperationState itself can implement
// smkit.State[C] by delegating to I — this is what lets a module hand
// dynstate.Wrap an OperationState value directly.
type OperationState[C smkit.Context, I Inner[C, I]] struct {
	OpID  smkit.OperationId
	Inner I
}

// New wraps inner with opID.
func New[C smkit.Context, I Inner[C, I]](opID smkit.OperationId, inner I) OperationState[C, I] {
	return OperationState[C, I]{OpID: opID, Inner: inner}
}

// OperationID implements smkit.State, sourced from the wrapper's own field
// so the inner type never needs to know its operation id.
func (o OperationState[C, I]) OperationID() smkit.OperationId { return o.OpID }

// Transitions implements smkit.State[C]: it delegates enumeration to Inner
// and rewraps every successor back into an OperationState carrying the same
// operation id.
func (o OperationState[C, I]) Transitions(ctx context.Context, moduleCtx C, global smkit.GlobalContext) []smkit.StateTransition[smkit.State[C]] {
	innerTransitions := o.Inner.Transitions(ctx, moduleCtx, global)
	out := make([]smkit.StateTransition[smkit.State[C]], len(innerTransitions))
	opID := o.OpID
	for idx, t := range innerTransitions {
		t := t
		out[idx] = smkit.StateTransition[smkit.State[C]]{
			Trigger: t.Trigger,
			Apply: func(ctx context.Context, tx smkit.Tx, value json.RawMessage, from smkit.State[C]) (smkit.State[C], error) {
				wrapped, ok := from.(OperationState[C, I])
				if !ok {
					return nil, fmt.Errorf("opstate: unexpected state type %T", from)
				}
				successor, err := t.Apply(ctx, tx, value, wrapped.Inner)
				if err != nil {
					return nil, err
				}
				return OperationState[C, I]{OpID: opID, Inner: successor}, nil
			},
		}
	}
	return out
}

// innerCodec is implemented by a module for its bare Inner type; the
// EncodeWith/DecodeWith helpers lift it to a dynstate.Codec over
// OperationState[C, I] by concatenating the operation id with the inner
// encoding.
type innerCodec[I any] interface {
	Encode(I) ([]byte, error)
	Decode([]byte) (I, error)
	Equal(a, b I) bool
	Hash(I) uint64
}

// EncodeWith concatenates OpID and the inner encoding.
func EncodeWith[C smkit.Context, I Inner[C, I]](inner innerCodec[I], o OperationState[C, I]) ([]byte, error) {
	innerBytes, err := inner.Encode(o.Inner)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(o.OpID)+len(innerBytes))
	buf = append(buf, o.OpID[:]...)
	buf = append(buf, innerBytes...)
	return buf, nil
}

// DecodeWith splits the leading 32-byte operation id off and decodes the
// remainder with inner.
func DecodeWith[C smkit.Context, I Inner[C, I]](inner innerCodec[I], b []byte) (OperationState[C, I], error) {
	var zero OperationState[C, I]
	if len(b) < 32 {
		return zero, fmt.Errorf("opstate: encoded value too short: %d bytes", len(b))
	}
	var opID smkit.OperationId
	copy(opID[:], b[:32])
	innerVal, err := inner.Decode(b[32:])
	if err != nil {
		return zero, err
	}
	return OperationState[C, I]{OpID: opID, Inner: innerVal}, nil
}

// EqualWith compares two OperationStates: operation ids and inner payloads
// must both match.
func EqualWith[C smkit.Context, I Inner[C, I]](inner innerCodec[I], a, b OperationState[C, I]) bool {
	return a.OpID == b.OpID && inner.Equal(a.Inner, b.Inner)
}

// HashWith combines the operation id and inner hash.
func HashWith[C smkit.Context, I Inner[C, I]](inner innerCodec[I], o OperationState[C, I]) uint64 {
	h := inner.Hash(o.Inner)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	mix := uint64(14695981039346656037)
	for _, bb := range o.OpID[:] {
		mix ^= uint64(bb)
		mix *= 1099511628211
	}
	for _, bb := range buf {
		mix ^= uint64(bb)
		mix *= 1099511628211
	}
	return mix
}
