// Package oplog implements the executor's append-only operation log: a
// monotonic sequence of entries recording started, progress, and terminal
// events per operation, stored in the oplog bucket. Writes are serialized
// by a single Writer goroutine consuming a buffered channel, so concurrent
// driver cycles never race on sequence assignment.
package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/MrImmortal09/fedimint/pkg/store"
	"github.com/rs/zerolog"
)

// Kind names an entry's logical subsequence.
type Kind string

const (
	KindStarted  Kind = "started"
	KindProgress Kind = "progress"
	KindTerminal Kind = "terminal"
	KindError    Kind = "error"

	// KindTerminalObserved marks a machine that arrived at a terminal state
	// without a triggered transition (Transitions() simply started
	// returning no edges), distinct from a normal Terminal entry produced
	// by a committed transition, so history readers can tell the two
	// apart.
	KindTerminalObserved Kind = "terminal_observed"
)

// Entry is one operation-log record. Writer.Append never sets ModuleID, so
// it is nil on every entry the Writer persists.
type Entry struct {
	Seq       uint64                 `json:"seq"`
	Kind      Kind                   `json:"kind"`
	ModuleID  *smkit.ModuleInstanceId `json:"module_id,omitempty"`
	OpID      smkit.OperationId      `json:"op_id"`
	CreatedAt time.Time              `json:"created_at"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
}

type writeRequest struct {
	entry Entry
	done  chan error
}

// Writer serializes appends to the oplog bucket through a single goroutine,
// so concurrent driver cycles never race on the next sequence number.
type Writer struct {
	db   *store.DB
	log  zerolog.Logger
	reqs chan writeRequest
	stop chan struct{}
	done chan struct{}
}

// NewWriter creates a Writer bound to db. Call Run in its own goroutine to
// start serving writes.
func NewWriter(db *store.DB, log zerolog.Logger) *Writer {
	return &Writer{
		db:   db,
		log:  log,
		reqs: make(chan writeRequest, 256),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run serves Append requests until Stop is called or ctx is done. It is
// meant to be launched once, e.g. via a TaskGroup.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	seq, err := w.loadNextSeq()
	if err != nil {
		w.log.Error().Err(err).Msg("oplog: failed to load starting sequence")
		seq = 1
	}
	for {
		select {
		case req := <-w.reqs:
			req.entry.Seq = seq
			err := w.persist(ctx, req.entry)
			req.done <- err
			if err == nil {
				seq++
			}
		case <-w.stop:
			for {
				select {
				case req := <-w.reqs:
					req.entry.Seq = seq
					err := w.persist(ctx, req.entry)
					req.done <- err
					if err == nil {
						seq++
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Run to exit after draining in-flight requests that have
// already been accepted.
func (w *Writer) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Writer) loadNextSeq() (uint64, error) {
	var max uint64
	err := w.db.View(context.Background(), func(tx *store.Tx) error {
		return tx.Iterate(store.BucketOperationLog, nil, func(key, value []byte) error {
			seq, ok := decodeSeqKey(key)
			if !ok {
				return nil
			}
			if seq > max {
				max = seq
			}
			return nil
		})
	})
	if err != nil {
		return 1, err
	}
	return max + 1, nil
}

func decodeSeqKey(key []byte) (uint64, bool) {
	if len(key) != 8 {
		return 0, false
	}
	var seq uint64
	for _, b := range key {
		seq = (seq << 8) | uint64(b)
	}
	return seq, true
}

func (w *Writer) persist(ctx context.Context, e Entry) error {
	encoded, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("oplog: encode entry: %w", err)
	}
	return w.db.Update(ctx, func(tx *store.Tx) error {
		return tx.Put(store.BucketOperationLog, store.OplogKey(e.Seq), encoded)
	})
}

// Append enqueues an entry for serialized persistence and blocks until it is
// durably committed (or ctx is cancelled first).
func (w *Writer) Append(ctx context.Context, kind Kind, opID smkit.OperationId, payload json.RawMessage) error {
	req := writeRequest{
		entry: Entry{Kind: kind, OpID: opID, CreatedAt: time.Now(), Payload: payload},
		done:  make(chan error, 1),
	}
	select {
	case w.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stop:
		return fmt.Errorf("oplog: writer stopped")
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reader serves read-only history queries against the oplog bucket.
type Reader struct {
	db *store.DB
}

// NewReader creates a Reader bound to db.
func NewReader(db *store.DB) *Reader {
	return &Reader{db: db}
}

// History returns every entry belonging to opID, merged in sequence order —
// the started, progress, and terminal subsequences are reconstructed by
// filtering the bucket's natural key order.
func (r *Reader) History(opID smkit.OperationId) ([]Entry, error) {
	var out []Entry
	err := r.db.View(context.Background(), func(tx *store.Tx) error {
		return tx.Iterate(store.BucketOperationLog, nil, func(key, value []byte) error {
			var e Entry
			if err := json.Unmarshal(value, &e); err != nil {
				return fmt.Errorf("oplog: decode entry at seq key %x: %w", key, err)
			}
			if e.OpID == opID {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
