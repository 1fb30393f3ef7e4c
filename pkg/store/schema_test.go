package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitStateRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		_, ok, err := tx.GetInitState()
		require.False(t, ok)
		return err
	}))

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.SetInitState(InitState{Phase: InitPhasePending, Mode: InitModeRecovery})
	}))
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.SetInitState(InitState{Phase: InitPhaseComplete, Mode: InitModeRecovery})
	}))

	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		s, ok, err := tx.GetInitState()
		require.True(t, ok)
		require.Equal(t, InitPhaseComplete, s.Phase)
		require.Equal(t, InitModeRecovery, s.Mode)
		return err
	}))
}

func TestModuleRecoveryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.SetModuleRecovery(4, ModuleRecovery{Progress: 128, Done: false})
	}))

	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		r, ok, err := tx.GetModuleRecovery(4)
		require.True(t, ok)
		require.Equal(t, uint64(128), r.Progress)
		require.False(t, r.Done)

		_, ok, err2 := tx.GetModuleRecovery(5)
		require.NoError(t, err2)
		require.False(t, ok)
		return err
	}))
}

func TestPreRootSecretHashRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var hash [32]byte
	hash[0] = 0xFE
	hash[31] = 0x01

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.SetPreRootSecretHash(hash)
	}))

	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		got, ok, err := tx.GetPreRootSecretHash()
		require.True(t, ok)
		require.Equal(t, hash, got)
		return err
	}))
}

func TestPreRootSecretHashRejectsWrongLength(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.Put(BucketPreRootSecretHash, PreRootSecretHashKey(), []byte("short"))
	}))

	err := db.View(ctx, func(tx *Tx) error {
		_, _, err := tx.GetPreRootSecretHash()
		return err
	})
	require.Error(t, err)
}
