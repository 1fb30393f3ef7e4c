package pingpong

import (
	"context"
	"testing"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/stretchr/testify/require"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	c := Codec{}
	opID := smkit.OperationId{0x01}

	for _, s := range []smkit.State[Context]{
		StateA{OpID: opID},
		StateB{OpID: opID},
		StateC{OpID: opID},
	} {
		encoded, err := c.Encode(s)
		require.NoError(t, err)

		decoded, err := c.Decode(encoded)
		require.NoError(t, err)
		require.True(t, c.Equal(s, decoded))
	}
}

func TestCodecDecodeRejectsUnknownKind(t *testing.T) {
	c := Codec{}
	_, err := c.Decode([]byte(`{"kind":"Z","op_id":"0000000000000000000000000000000000000000000000000000000000000000"}`))
	require.Error(t, err)
}

func TestCodecHashAgreesWithEqual(t *testing.T) {
	c := Codec{}
	opID := smkit.OperationId{0x02}
	a := StateA{OpID: opID}
	b := StateA{OpID: opID}

	require.True(t, c.Equal(a, b))
	require.Equal(t, c.Hash(a), c.Hash(b))
}

func TestStateATransitionsToStateB(t *testing.T) {
	opID := smkit.OperationId{0x03}
	s := StateA{OpID: opID}
	transitions := s.Transitions(context.Background(), Context{}, nil)
	require.Len(t, transitions, 1)

	value, err := transitions[0].Trigger(context.Background())
	require.NoError(t, err)

	next, err := transitions[0].Apply(context.Background(), nil, value, s)
	require.NoError(t, err)
	require.Equal(t, StateB{OpID: opID}, next)
}

func TestStateCHasNoTransitions(t *testing.T) {
	s := StateC{OpID: smkit.OperationId{0x04}}
	require.Empty(t, s.Transitions(context.Background(), Context{}, nil))
}

func TestNewMachineStartsAtStateA(t *testing.T) {
	opID := smkit.OperationId{0x05}
	ds := NewMachine(9, opID)
	require.Equal(t, opID, ds.OperationID())
	require.Equal(t, smkit.ModuleInstanceId(9), ds.ModuleInstanceID())

	encoded, err := ds.Inner().CanonicalEncode()
	require.NoError(t, err)
	state, err := Codec{}.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, StateA{OpID: opID}, state)
}
