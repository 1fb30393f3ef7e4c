package deposit

import (
	"context"
	"errors"
	"testing"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/stretchr/testify/require"
)

func TestInnerTransitionsConfirmedPath(t *testing.T) {
	mc := Context{Confirm: func(context.Context) (bool, error) { return true, nil }}
	i := Inner{Status: "awaiting"}

	transitions := i.Transitions(context.Background(), mc, nil)
	require.Len(t, transitions, 1)

	value, err := transitions[0].Trigger(context.Background())
	require.NoError(t, err)

	next, err := transitions[0].Apply(context.Background(), nil, value, i)
	require.NoError(t, err)
	require.Equal(t, "confirmed", next.Status)
}

func TestInnerTransitionsFailedPath(t *testing.T) {
	mc := Context{Confirm: func(context.Context) (bool, error) { return false, nil }}
	i := Inner{Status: "awaiting"}

	transitions := i.Transitions(context.Background(), mc, nil)
	value, err := transitions[0].Trigger(context.Background())
	require.NoError(t, err)

	next, err := transitions[0].Apply(context.Background(), nil, value, i)
	require.NoError(t, err)
	require.Equal(t, "failed", next.Status)
}

func TestInnerTransitionsPropagatesConfirmError(t *testing.T) {
	boom := errors.New("chain RPC unavailable")
	mc := Context{Confirm: func(context.Context) (bool, error) { return false, boom }}
	i := Inner{Status: "awaiting"}

	transitions := i.Transitions(context.Background(), mc, nil)
	_, err := transitions[0].Trigger(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, status := range []string{"confirmed", "failed"} {
		i := Inner{Status: status}
		require.Empty(t, i.Transitions(context.Background(), Context{}, nil))
	}
}

func TestPanicOnConfirmPanicsInsideApply(t *testing.T) {
	mc := Context{Confirm: func(context.Context) (bool, error) { return true, nil }, PanicOnConfirm: true}
	i := Inner{Status: "awaiting"}

	transitions := i.Transitions(context.Background(), mc, nil)
	value, err := transitions[0].Trigger(context.Background())
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = transitions[0].Apply(context.Background(), nil, value, i)
	})
}

func TestDynCodecRoundTrip(t *testing.T) {
	opID := smkit.OperationId{0x0A}
	ds := NewMachine(1, opID)

	encoded, err := ds.Inner().CanonicalEncode()
	require.NoError(t, err)

	decoder := NewDecoder(1)
	decoded, err := decoder(encoded)
	require.NoError(t, err)
	require.True(t, ds.Equal(decoded))
	require.Equal(t, opID, decoded.OperationID())
}

func TestNewMachineStartsAwaiting(t *testing.T) {
	ds := NewMachine(2, smkit.OperationId{0x0B})
	encoded, err := ds.Inner().CanonicalEncode()
	require.NoError(t, err)
	state, err := DynCodec{}.Decode(encoded)
	require.NoError(t, err)
	m, ok := state.(Machine)
	require.True(t, ok)
	require.Equal(t, "awaiting", m.Inner.Status)
}
