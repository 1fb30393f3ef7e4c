package smkit

import "context"

// ErasedTransition is the type-erased counterpart of StateTransition: its
// Apply closure already captures the concrete transition function and
// returns a re-erased successor state.
type ErasedTransition struct {
	Trigger TriggerFunc
	Apply   func(ctx context.Context, tx Tx, value []byte) (ErasedState, error)
}

// ErasedState is the narrow capability the persistence boundary and the
// executor operate on when the concrete module type isn't known statically.
// Implementers should not expose a general-purpose `any` escape hatch
// beyond these methods; pkg/smkit/dynstate is the only place that
// implements it, via a generic adapter over a concrete State[C].
type ErasedState interface {
	ModuleInstanceID() ModuleInstanceId
	OperationID() OperationId

	// CanonicalEncode returns the version-tolerant binary encoding used both
	// to persist the state and to compare two states for active-set
	// uniqueness.
	CanonicalEncode() ([]byte, error)

	// EqualIgnoringInstance compares payloads only; callers combine it with
	// a ModuleInstanceID() comparison to get instance-scoped equality.
	EqualIgnoringInstance(other ErasedState) bool

	// HashIgnoringInstance must agree with EqualIgnoringInstance.
	HashIgnoringInstance() uint64

	// Clone returns an independent copy; payloads are expected to be small
	// (< 1KB encoded) so this is cheap.
	Clone() ErasedState

	// Transitions downcasts moduleCtx to the module's concrete context type
	// (a programmer error, not a type error, if it doesn't match) and
	// returns the type-erased transition set.
	Transitions(ctx context.Context, moduleCtx Context, global GlobalContext) []ErasedTransition
}
