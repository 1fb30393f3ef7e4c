package opstate_test

import (
	"context"
	"testing"

	"github.com/MrImmortal09/fedimint/internal/modules/deposit"
	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/stretchr/testify/require"
)

// An inner state wrapped as OperationState must decode back to the same
// wrapped state with the same operation id, and OperationID() must always
// return the wrapper's id, not the inner payload's.
func TestOperationStateRoundTripsAndOwnsOperationID(t *testing.T) {
	opID := smkit.OperationId{0x42}
	ds := deposit.NewMachine(5, opID)

	require.Equal(t, opID, ds.OperationID())

	payload, err := ds.Inner().CanonicalEncode()
	require.NoError(t, err)

	decoder := deposit.NewDecoder(5)
	decoded, err := decoder(payload)
	require.NoError(t, err)
	require.True(t, ds.Equal(decoded))
	require.Equal(t, opID, decoded.OperationID())
}

func TestInnerTransitionsAdvanceStatusUnderSameOperationID(t *testing.T) {
	opID := smkit.OperationId{0x43}
	ds := deposit.NewMachine(1, opID)

	ctx := context.Background()
	moduleCtx := deposit.Context{Confirm: func(context.Context) (bool, error) { return true, nil }}
	transitions := ds.Transitions(ctx, moduleCtx, nil)
	require.Len(t, transitions, 1)

	value, err := transitions[0].Trigger(ctx)
	require.NoError(t, err)

	successor, err := transitions[0].Apply(ctx, nil, value)
	require.NoError(t, err)
	require.Equal(t, opID, successor.OperationID())

	encoded, err := successor.CanonicalEncode()
	require.NoError(t, err)
	state, err := deposit.DynCodec{}.Decode(encoded)
	require.NoError(t, err)
	m, ok := state.(deposit.Machine)
	require.True(t, ok)
	require.Equal(t, "confirmed", m.Inner.Status)
}
