package smkit

import (
	"context"
	"encoding/json"
)

// Context is additional, module-private data made available to that
// module's transitions (API clients, caches, ...). It must be internally
// thread-safe: the executor shares one instance across every machine of the
// module and across concurrently running driver goroutines.
type Context interface {
	ModuleKind() ModuleKind
}

// GlobalContext is supplied by the enclosing client (outside this module's
// scope) to every module's transitions uniformly. It is the executor's own
// capability surface, narrowed to what a transition may do with it.
type GlobalContext interface {
	// AddStateMachines lets a transition function spawn further machines
	// (e.g. a payment operation's deposit fan-out) as part of its own
	// database transaction.
	AddStateMachines(ctx context.Context, tx Tx, states ...ErasedState) error
}

// Tx is the narrow slice of the database transaction a transition function
// is allowed to use for its own module-private writes. It is implemented by
// pkg/store.Tx; smkit does not import pkg/store to avoid a cycle (store
// depends on smkit for its id and ErasedState types).
type Tx interface {
	Put(bucket string, key, value []byte) error
	Get(bucket string, key []byte) ([]byte, bool, error)
	Delete(bucket string, key []byte) error
	Iterate(bucket string, prefix []byte, fn func(key, value []byte) error) error
}

// TriggerFunc is a lazy, idempotent, restartable asynchronous computation
// that becomes ready when an external condition holds and yields an opaque
// JSON value. Triggers must not write to the database and must not assume
// exclusivity: the same trigger may be re-evaluated after a crash with the
// same effect.
type TriggerFunc func(ctx context.Context) (json.RawMessage, error)

// TransitionFunc is a deterministic, non-blocking step that consumes a
// trigger's output and the current state to produce a successor state,
// writing module-private effects through tx. It must not perform network
// I/O; all blocking is concentrated in the TriggerFunc.
type TransitionFunc[S any] func(ctx context.Context, tx Tx, value json.RawMessage, from S) (S, error)

// StateTransition is one admissible outgoing edge from a State: a pairing of
// a trigger and the transition function driven by its output.
type StateTransition[S any] struct {
	Trigger TriggerFunc
	Apply   TransitionFunc[S]
}

// State is implemented by every module-defined state payload. C is the
// module's own context type, kept concrete so module code never deals with
// type erasure; the executor bridges to it through ErasedState.
//
// Transitions must be pure with respect to program state: its result may
// depend only on the receiver, ctx, and global, and it must be cheap to
// call repeatedly (the executor calls it at the top of every driver cycle
// and again on each successor to decide whether it is terminal).
type State[C Context] interface {
	Transitions(ctx context.Context, moduleCtx C, global GlobalContext) []StateTransition[State[C]]
	OperationID() OperationId
}

// IsTerminal reports whether s has no admissible outgoing transitions, per
// the invariant is_terminal(state) == (transitions(state).len() == 0).
func IsTerminal[C Context](ctx context.Context, s State[C], moduleCtx C, global GlobalContext) bool {
	return len(s.Transitions(ctx, moduleCtx, global)) == 0
}
