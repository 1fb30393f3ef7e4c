// Package store implements the executor's database abstraction: an ordered
// key-value store with bucket-scoped, multi-key atomic transactions over
// go.etcd.io/bbolt, one bucket per persisted entity kind.
package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
	bolt "go.etcd.io/bbolt"
)

// Bucket names, one per persisted entity kind.
const (
	BucketActive             = "active"
	BucketInactive           = "inactive"
	BucketOperationLog       = "oplog"
	BucketInitState          = "init_state"
	BucketPreRootSecretHash  = "pre_root_secret_hash"
	BucketModuleRecovery     = "module_recovery"
)

var allBuckets = []string{
	BucketActive,
	BucketInactive,
	BucketOperationLog,
	BucketInitState,
	BucketPreRootSecretHash,
	BucketModuleRecovery,
}

// DB is the transactional key-value handle the executor is built against.
type DB struct {
	bolt *bolt.DB
}

// Open creates (or reopens) a bbolt-backed store at dataDir/fedimint.db,
// ensuring every known bucket exists.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "fedimint.db")
	b, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	err = b.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	return &DB{bolt: b}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Tx is a read-write database transaction scoped to this store. It
// satisfies smkit.Tx so module transition functions can use it directly for
// their own writes, in addition to the executor's own active/inactive/oplog
// bookkeeping.
type Tx struct {
	tx     *bolt.Tx
	fanout []smkit.ErasedState
}

// StageFanout records a machine admitted through the executor's global
// context during this transaction. Staged machines are read back by the
// executor after commit, so their drivers start only once the insert is
// durable; a rolled-back transaction's stagings die with the Tx value.
func (t *Tx) StageFanout(s smkit.ErasedState) {
	t.fanout = append(t.fanout, s)
}

// StagedFanout returns the machines staged during this transaction.
func (t *Tx) StagedFanout() []smkit.ErasedState { return t.fanout }

// Put writes a value into bucket.
func (t *Tx) Put(bucket string, key, value []byte) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("store: unknown bucket %q", bucket)
	}
	return b.Put(key, value)
}

// Get reads a value from bucket; ok is false if the key is absent.
func (t *Tx) Get(bucket string, key []byte) ([]byte, bool, error) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, false, fmt.Errorf("store: unknown bucket %q", bucket)
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Delete removes a key from bucket. Deleting an absent key is a no-op.
func (t *Tx) Delete(bucket string, key []byte) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("store: unknown bucket %q", bucket)
	}
	return b.Delete(key)
}

// Iterate calls fn for every key in bucket with the given prefix, in
// ascending key order (bbolt's native ordering), stopping early if fn
// returns an error.
func (t *Tx) Iterate(bucket string, prefix []byte, fn func(key, value []byte) error) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("store: unknown bucket %q", bucket)
	}
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		keyCopy := append([]byte(nil), k...)
		valCopy := append([]byte(nil), v...)
		if err := fn(keyCopy, valCopy); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Update runs fn inside a writable transaction and commits iff fn returns
// nil. It threads ctx only for early cancellation before the transaction is
// opened; bbolt's own Update call is synchronous and uncancellable once
// started.
func (d *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.bolt.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// View runs fn inside a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.bolt.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}
