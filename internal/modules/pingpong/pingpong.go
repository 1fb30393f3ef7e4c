// Package pingpong is a minimal three-state demo module — A -> B -> C
// (terminal) — used to exercise the executor's basic admission, trigger
// race, and crash-recovery paths.
package pingpong

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/MrImmortal09/fedimint/pkg/smkit/dynstate"
)

// Kind names this module for the decoder registry and metrics labels.
const Kind smkit.ModuleKind = "pingpong"

// Context is pingpong's module-private context. It carries no external
// dependencies: every trigger here fires immediately.
type Context struct{}

// ModuleKind implements smkit.Context.
func (Context) ModuleKind() smkit.ModuleKind { return Kind }

// StateA is the initial state.
type StateA struct {
	OpID smkit.OperationId
}

// StateB is reached after one transition from StateA.
type StateB struct {
	OpID smkit.OperationId
}

// StateC is terminal.
type StateC struct {
	OpID smkit.OperationId
}

func (s StateA) OperationID() smkit.OperationId { return s.OpID }
func (s StateB) OperationID() smkit.OperationId { return s.OpID }
func (s StateC) OperationID() smkit.OperationId { return s.OpID }

// Transitions for StateA: a single always-ready trigger advancing to StateB.
func (s StateA) Transitions(ctx context.Context, mc Context, global smkit.GlobalContext) []smkit.StateTransition[smkit.State[Context]] {
	return []smkit.StateTransition[smkit.State[Context]]{
		{
			Trigger: func(ctx context.Context) (json.RawMessage, error) {
				return json.RawMessage(`"ping"`), nil
			},
			Apply: func(ctx context.Context, tx smkit.Tx, value json.RawMessage, from smkit.State[Context]) (smkit.State[Context], error) {
				return StateB{OpID: s.OpID}, nil
			},
		},
	}
}

// Transitions for StateB: a single always-ready trigger advancing to the
// terminal StateC.
func (s StateB) Transitions(ctx context.Context, mc Context, global smkit.GlobalContext) []smkit.StateTransition[smkit.State[Context]] {
	return []smkit.StateTransition[smkit.State[Context]]{
		{
			Trigger: func(ctx context.Context) (json.RawMessage, error) {
				return json.RawMessage(`"pong"`), nil
			},
			Apply: func(ctx context.Context, tx smkit.Tx, value json.RawMessage, from smkit.State[Context]) (smkit.State[Context], error) {
				return StateC{OpID: s.OpID}, nil
			},
		},
	}
}

// Transitions for StateC: none — terminal.
func (s StateC) Transitions(ctx context.Context, mc Context, global smkit.GlobalContext) []smkit.StateTransition[smkit.State[Context]] {
	return nil
}

type wire struct {
	Kind string            `json:"kind"`
	OpID smkit.OperationId `json:"op_id"`
}

// Codec bridges pingpong's three concrete states to DynState's canonical
// encoding.
type Codec struct{}

func (Codec) Encode(s smkit.State[Context]) ([]byte, error) {
	switch v := s.(type) {
	case StateA:
		return json.Marshal(wire{Kind: "A", OpID: v.OpID})
	case StateB:
		return json.Marshal(wire{Kind: "B", OpID: v.OpID})
	case StateC:
		return json.Marshal(wire{Kind: "C", OpID: v.OpID})
	default:
		return nil, fmt.Errorf("pingpong: unknown state type %T", s)
	}
}

func (Codec) Decode(b []byte) (smkit.State[Context], error) {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	switch w.Kind {
	case "A":
		return StateA{OpID: w.OpID}, nil
	case "B":
		return StateB{OpID: w.OpID}, nil
	case "C":
		return StateC{OpID: w.OpID}, nil
	default:
		return nil, fmt.Errorf("pingpong: unknown wire kind %q", w.Kind)
	}
}

func (c Codec) Equal(a, b smkit.State[Context]) bool {
	ae, errA := c.Encode(a)
	be, errB := c.Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ae) == string(be)
}

func (c Codec) Hash(s smkit.State[Context]) uint64 {
	e, err := c.Encode(s)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(e)
	return h.Sum64()
}

// NewDecoder returns a dynstate.Decoder bound to instanceID, for
// registration with an executor Builder.
func NewDecoder(instanceID smkit.ModuleInstanceId) dynstate.Decoder {
	c := Codec{}
	return func(payload []byte) (dynstate.DynState, error) {
		state, err := c.Decode(payload)
		if err != nil {
			return dynstate.DynState{}, err
		}
		return dynstate.Wrap[Context](instanceID, state, c), nil
	}
}

// NewMachine builds the initial DynState (StateA) for a new pingpong
// operation.
func NewMachine(instanceID smkit.ModuleInstanceId, opID smkit.OperationId) dynstate.DynState {
	return dynstate.Wrap[Context](instanceID, StateA{OpID: opID}, Codec{})
}
