// Package deposit is a two-outcome demo module — awaiting confirmation,
// then confirmed or failed (both terminal) — used to exercise the
// executor's recovery from a panicking transition function.
package deposit

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/MrImmortal09/fedimint/pkg/smkit/dynstate"
	"github.com/MrImmortal09/fedimint/pkg/smkit/opstate"
)

// Kind names this module for the decoder registry and metrics labels.
const Kind smkit.ModuleKind = "deposit"

// Context is deposit's module-private context. Confirm simulates the
// external condition a real module would await (a chain confirmation, a
// federation signature threshold, ...); tests substitute it freely.
// PanicOnConfirm lets a test exercise the TransitionPanicked path
// deterministically.
type Context struct {
	Confirm        func(ctx context.Context) (bool, error)
	PanicOnConfirm bool
}

// ModuleKind implements smkit.Context.
func (Context) ModuleKind() smkit.ModuleKind { return Kind }

// Inner is deposit's bare per-operation state.
type Inner struct {
	Status string `json:"status"` // "awaiting", "confirmed", "failed"
}

// Transitions implements opstate.Inner[Context, Inner]: awaiting has one
// outgoing edge driven by Confirm; confirmed and failed are terminal.
func (i Inner) Transitions(ctx context.Context, mc Context, global smkit.GlobalContext) []smkit.StateTransition[Inner] {
	if i.Status != "awaiting" {
		return nil
	}
	return []smkit.StateTransition[Inner]{
		{
			Trigger: func(ctx context.Context) (json.RawMessage, error) {
				ok, err := mc.Confirm(ctx)
				if err != nil {
					return nil, err
				}
				return json.Marshal(ok)
			},
			Apply: func(ctx context.Context, tx smkit.Tx, value json.RawMessage, from Inner) (Inner, error) {
				if mc.PanicOnConfirm {
					panic("deposit: simulated transition panic")
				}
				var ok bool
				if err := json.Unmarshal(value, &ok); err != nil {
					return from, err
				}
				if ok {
					return Inner{Status: "confirmed"}, nil
				}
				return Inner{Status: "failed"}, nil
			},
		},
	}
}

type innerCodec struct{}

func (innerCodec) Encode(i Inner) ([]byte, error) { return json.Marshal(i) }
func (innerCodec) Decode(b []byte) (Inner, error) {
	var i Inner
	err := json.Unmarshal(b, &i)
	return i, err
}
func (innerCodec) Equal(a, b Inner) bool { return a.Status == b.Status }
func (innerCodec) Hash(i Inner) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(i.Status))
	return h.Sum64()
}

// Machine is the concrete OperationState type wrapped and persisted for
// this module.
type Machine = opstate.OperationState[Context, Inner]

// DynCodec bridges Machine to DynState's canonical encoding by delegating to
// opstate's Encode/DecodeWith helpers over innerCodec.
type DynCodec struct{}

func (DynCodec) Encode(s smkit.State[Context]) ([]byte, error) {
	m, ok := s.(Machine)
	if !ok {
		return nil, fmt.Errorf("deposit: unknown state type %T", s)
	}
	return opstate.EncodeWith[Context, Inner](innerCodec{}, m)
}

func (DynCodec) Decode(b []byte) (smkit.State[Context], error) {
	return opstate.DecodeWith[Context, Inner](innerCodec{}, b)
}

func (DynCodec) Equal(a, b smkit.State[Context]) bool {
	ma, ok1 := a.(Machine)
	mb, ok2 := b.(Machine)
	if !ok1 || !ok2 {
		return false
	}
	return opstate.EqualWith[Context, Inner](innerCodec{}, ma, mb)
}

func (DynCodec) Hash(s smkit.State[Context]) uint64 {
	m, ok := s.(Machine)
	if !ok {
		return 0
	}
	return opstate.HashWith[Context, Inner](innerCodec{}, m)
}

// NewDecoder returns a dynstate.Decoder bound to instanceID, for
// registration with an executor Builder.
func NewDecoder(instanceID smkit.ModuleInstanceId) dynstate.Decoder {
	c := DynCodec{}
	return func(payload []byte) (dynstate.DynState, error) {
		state, err := c.Decode(payload)
		if err != nil {
			return dynstate.DynState{}, err
		}
		return dynstate.Wrap[Context](instanceID, state, c), nil
	}
}

// NewMachine builds the initial DynState (awaiting confirmation) for a new
// deposit operation.
func NewMachine(instanceID smkit.ModuleInstanceId, opID smkit.OperationId) dynstate.DynState {
	m := opstate.New[Context, Inner](opID, Inner{Status: "awaiting"})
	return dynstate.Wrap[Context](instanceID, m, DynCodec{})
}
