package store

import (
	"context"
	"testing"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.Put(BucketInitState, InitStateKey(), []byte("v1"))
	}))

	var got []byte
	var ok bool
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		var err error
		got, ok, err = tx.Get(BucketInitState, InitStateKey())
		return err
	}))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.Delete(BucketInitState, InitStateKey())
	}))
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		_, ok, _ = tx.Get(BucketInitState, InitStateKey())
		return nil
	}))
	require.False(t, ok)
}

func TestGetUnknownBucketErrors(t *testing.T) {
	db := newTestDB(t)
	err := db.View(context.Background(), func(tx *Tx) error {
		_, _, err := tx.Get("not-a-real-bucket", []byte("x"))
		return err
	})
	require.Error(t, err)
}

func TestActiveKeyRoundTripsViaSplitActiveKey(t *testing.T) {
	opID := smkit.OperationId{0x01, 0x02}
	encoded := []byte(`{"kind":"A"}`)

	key := ActiveKey(7, opID, encoded)
	instanceID, gotOp, gotEncoded, ok := SplitActiveKey(key)
	require.True(t, ok)
	require.Equal(t, smkit.ModuleInstanceId(7), instanceID)
	require.Equal(t, opID, gotOp)
	require.Equal(t, encoded, gotEncoded)
}

func TestSplitActiveKeyRejectsShortKeys(t *testing.T) {
	_, _, _, ok := SplitActiveKey([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestInsertAndRemoveActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	opID := smkit.OperationId{0xAA}
	encoded := []byte(`{"kind":"A"}`)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.InsertActive(1, opID, encoded)
	}))

	var exists bool
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		_, ok, err := tx.Get(BucketActive, ActiveKey(1, opID, encoded))
		exists = ok
		return err
	}))
	require.True(t, exists)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.RemoveActive(1, opID, encoded)
	}))
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		_, ok, err := tx.Get(BucketActive, ActiveKey(1, opID, encoded))
		exists = ok
		return err
	}))
	require.False(t, exists)
}

func TestInsertInactiveIsIterableByPrefix(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	opID := smkit.OperationId{0xBB}
	encoded := []byte(`{"kind":"C"}`)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		return tx.InsertInactive(3, opID, encoded, 1000)
	}))

	var found int
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		return tx.Iterate(BucketInactive, ActivePrefix(3, opID), func(key, value []byte) error {
			found++
			return nil
		})
	}))
	require.Equal(t, 1, found)
}

func TestIterateRespectsPrefixAndOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	opA := smkit.OperationId{0x01}
	opB := smkit.OperationId{0x02}

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertActive(1, opA, []byte("a1")); err != nil {
			return err
		}
		if err := tx.InsertActive(1, opA, []byte("a2")); err != nil {
			return err
		}
		return tx.InsertActive(1, opB, []byte("b1"))
	}))

	var keys [][]byte
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		return tx.Iterate(BucketActive, ActivePrefix(1, opA), func(key, value []byte) error {
			keys = append(keys, append([]byte(nil), key...))
			return nil
		})
	}))
	require.Len(t, keys, 2)
	require.Less(t, string(keys[0]), string(keys[1]))
}

func TestOplogKeyOrdersBigEndian(t *testing.T) {
	k1 := OplogKey(1)
	k2 := OplogKey(2)
	k256 := OplogKey(256)

	require.Less(t, string(k1), string(k2))
	require.Less(t, string(k2), string(k256))
}

func TestModuleRecoveryKeyIsFixedWidth(t *testing.T) {
	key := ModuleRecoveryKey(42)
	require.Len(t, key, 2)
}

func TestUpdateRespectsCancelledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.Update(ctx, func(tx *Tx) error {
		t.Fatal("fn must not run once ctx is already cancelled")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
