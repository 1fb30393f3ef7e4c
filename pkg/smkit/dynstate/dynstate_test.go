package dynstate_test

import (
	"context"
	"testing"

	"github.com/MrImmortal09/fedimint/internal/modules/pingpong"
	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/MrImmortal09/fedimint/pkg/smkit/dynstate"
	"github.com/stretchr/testify/require"
)

func TestCanonicalEncodeRoundTrip(t *testing.T) {
	const instanceID smkit.ModuleInstanceId = 7
	opID := smkit.OperationId{0xAA}

	ds := pingpong.NewMachine(instanceID, opID)
	row, err := ds.CanonicalEncode()
	require.NoError(t, err)

	reg := dynstate.NewRegistry()
	reg.Register(instanceID, pingpong.Kind, pingpong.NewDecoder(instanceID))

	decoded, err := reg.Decode(row)
	require.NoError(t, err)
	require.True(t, ds.Equal(decoded), "decode(encode(s)) must equal s")
}

func TestInstanceScopedEquality(t *testing.T) {
	opID := smkit.OperationId{0xBB}
	a := pingpong.NewMachine(1, opID)
	b := pingpong.NewMachine(2, opID)

	require.False(t, a.Equal(b), "same payload but different module instance must not be equal")
	require.Equal(t, opID, a.OperationID())
}

func TestHashAgreesWithEquality(t *testing.T) {
	opID := smkit.OperationId{0xCC}
	a := pingpong.NewMachine(3, opID)
	b := pingpong.NewMachine(3, opID)

	require.True(t, a.Equal(b))
	require.Equal(t, a.Hash(), b.Hash())
}

func TestDecodeMissingModuleIsErrNoDecoder(t *testing.T) {
	ds := pingpong.NewMachine(9, smkit.OperationId{0xDD})
	row, err := ds.CanonicalEncode()
	require.NoError(t, err)

	reg := dynstate.NewRegistry()
	_, err = reg.Decode(row)
	require.Error(t, err)
	var target dynstate.ErrNoDecoder
	require.ErrorAs(t, err, &target)
	require.Equal(t, smkit.ModuleInstanceId(9), target.InstanceID)
}

func TestRegisterDuplicateInstancePanics(t *testing.T) {
	reg := dynstate.NewRegistry()
	reg.Register(1, pingpong.Kind, pingpong.NewDecoder(1))
	require.Panics(t, func() {
		reg.Register(1, pingpong.Kind, pingpong.NewDecoder(1))
	})
}

func TestWrongModuleContextPanics(t *testing.T) {
	ds := pingpong.NewMachine(1, smkit.OperationId{0xEE})
	require.Panics(t, func() {
		ds.Transitions(context.Background(), wrongContext{}, nil)
	})
}

type wrongContext struct{}

func (wrongContext) ModuleKind() smkit.ModuleKind { return "wrong" }
