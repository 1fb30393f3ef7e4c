// Package executor implements the persistent state-machine executor: the
// active-machine index and admission path, the per-machine driver pool, and
// the builder/facade surface. Every transition is committed to the store
// before subscribers hear about it, so a crash never publishes state it did
// not persist.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrImmortal09/fedimint/pkg/ferrors"
	"github.com/MrImmortal09/fedimint/pkg/fmetrics"
	"github.com/MrImmortal09/fedimint/pkg/notifier"
	"github.com/MrImmortal09/fedimint/pkg/oplog"
	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/MrImmortal09/fedimint/pkg/smkit/dynstate"
	"github.com/MrImmortal09/fedimint/pkg/store"
	"github.com/rs/zerolog"
)

// AddResult reports the outcome of AddStateMachine.
type AddResult int

const (
	// Added means the machine was newly admitted.
	Added AddResult = iota
	// AlreadyExists means an identical (instance, operation, encoding) row
	// was already active; the call was a no-op.
	AlreadyExists
)

func (r AddResult) String() string {
	if r == Added {
		return "added"
	}
	return "already_exists"
}

type moduleEntry struct {
	kind    smkit.ModuleKind
	ctx     smkit.Context
	decoder dynstate.Decoder
}

// Builder assembles an Executor's module registry before any machine is
// admitted. It is not safe for concurrent use; build your module set on one
// goroutine at startup.
type Builder struct {
	modules           map[smkit.ModuleInstanceId]moduleEntry
	validIDs          map[smkit.ModuleInstanceId]bool
	ringSize          int
	concurrency       int
	moduleConcurrency map[smkit.ModuleInstanceId]int
	grace             time.Duration
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		modules:           make(map[smkit.ModuleInstanceId]moduleEntry),
		validIDs:          make(map[smkit.ModuleInstanceId]bool),
		moduleConcurrency: make(map[smkit.ModuleInstanceId]int),
		ringSize:          notifier.DefaultRingSize,
		grace:             10 * time.Second,
	}
}

// WithModule registers the decoder and live module context for one instance.
func (b *Builder) WithModule(id smkit.ModuleInstanceId, kind smkit.ModuleKind, moduleCtx smkit.Context, decoder dynstate.Decoder) *Builder {
	b.modules[id] = moduleEntry{kind: kind, ctx: moduleCtx, decoder: decoder}
	b.validIDs[id] = true
	return b
}

// WithValidModuleID marks an instance id as structurally valid for admission
// even before its module is wired up; the admission check is separate from
// decode-ability.
func (b *Builder) WithValidModuleID(id smkit.ModuleInstanceId) *Builder {
	b.validIDs[id] = true
	return b
}

// WithConcurrency bounds the number of driver cycles running at once across
// all machines; zero means unbounded.
func (b *Builder) WithConcurrency(n int) *Builder {
	b.concurrency = n
	return b
}

// WithModuleConcurrency bounds the number of driver cycles running at once
// for one module instance's machines, on top of the global cap.
func (b *Builder) WithModuleConcurrency(id smkit.ModuleInstanceId, n int) *Builder {
	b.moduleConcurrency[id] = n
	return b
}

// WithShutdownGrace records a shutdown grace period on the Builder. Build
// does not apply it: Stop waits for the grace period the supplied TaskGroup
// was created with.
func (b *Builder) WithShutdownGrace(d time.Duration) *Builder {
	b.grace = d
	return b
}

// Build assembles the Executor. db, notif, and tasks are supplied by the
// caller rather than constructed here: the executor receives every resource
// by handle at construction and holds no globals.
func (b *Builder) Build(db *store.DB, notif *notifier.Notifier, tasks *TaskGroup, log zerolog.Logger) *Executor {
	registry := dynstate.NewRegistry()
	moduleCtx := make(map[smkit.ModuleInstanceId]smkit.Context, len(b.modules))
	for id, m := range b.modules {
		registry.Register(id, m.kind, m.decoder)
		moduleCtx[id] = m.ctx
	}

	var sem chan struct{}
	if b.concurrency > 0 {
		sem = make(chan struct{}, b.concurrency)
	}
	moduleSems := make(map[smkit.ModuleInstanceId]chan struct{}, len(b.moduleConcurrency))
	for id, n := range b.moduleConcurrency {
		if n > 0 {
			moduleSems[id] = make(chan struct{}, n)
		}
	}

	e := &Executor{
		db:          db,
		notif:       notif,
		registry:    registry,
		moduleCtx:   moduleCtx,
		validIDs:    b.validIDs,
		tasks:       tasks,
		log:         log.With().Str("component", "executor").Logger(),
		index:       newActiveIndex(),
		sem:         sem,
		moduleSems:  moduleSems,
		oplogWriter: oplog.NewWriter(db, log.With().Str("component", "oplog").Logger()),
		oplogReader: oplog.NewReader(db),
	}
	tasks.Go(func(ctx context.Context) {
		e.oplogWriter.Run(ctx)
	})
	return e
}

// Executor is the runtime facade: lifecycle, machine admission, and
// operation queries.
type Executor struct {
	db          *store.DB
	notif       *notifier.Notifier
	registry    *dynstate.Registry
	moduleCtx   map[smkit.ModuleInstanceId]smkit.Context
	validIDs    map[smkit.ModuleInstanceId]bool
	tasks       *TaskGroup
	log         zerolog.Logger
	index       *activeIndex
	sem         chan struct{}
	moduleSems  map[smkit.ModuleInstanceId]chan struct{}
	oplogWriter *oplog.Writer
	oplogReader *oplog.Reader

	stoppedMu sync.Mutex
	stopped   bool
	started   bool

	conflictInjector func(smkit.OperationId) bool
}

// InjectCommitConflict installs a hook consulted by the driver immediately
// before every commit; returning true makes that commit behave as though it
// lost to a conflicting writer, exercising the CommitConflict retry path
// deterministically. Intended for tests.
func (e *Executor) InjectCommitConflict(fn func(smkit.OperationId) bool) {
	e.conflictInjector = fn
}

// AddStateMachine admits a new machine. If an identical row is already
// active it is a no-op and AlreadyExists is returned.
func (e *Executor) AddStateMachine(ctx context.Context, s dynstate.DynState) (AddResult, error) {
	if !e.validIDs[s.ModuleInstanceID()] {
		return 0, ferrors.New(ferrors.KindAdmissionRejected,
			fmt.Sprintf("module instance %d is not registered", s.ModuleInstanceID()))
	}

	encoded, err := s.Inner().CanonicalEncode()
	if err != nil {
		return 0, ferrors.Wrap(ferrors.KindEncodingFailure, "encode new machine state", err)
	}

	var result AddResult
	err = e.db.Update(ctx, func(tx *store.Tx) error {
		key := store.ActiveKey(s.ModuleInstanceID(), s.OperationID(), encoded)
		_, exists, err := tx.Get(store.BucketActive, key)
		if err != nil {
			return err
		}
		if exists {
			result = AlreadyExists
			return nil
		}
		if err := tx.InsertActive(s.ModuleInstanceID(), s.OperationID(), encoded); err != nil {
			return err
		}
		result = Added
		return nil
	})
	if err != nil {
		return 0, err
	}
	if result == AlreadyExists {
		return AlreadyExists, nil
	}

	if err := e.oplogWriter.Append(ctx, oplog.KindStarted, s.OperationID(), nil); err != nil {
		e.log.Warn().Err(err).Msg("failed to append oplog Started entry")
	}

	e.notif.Publish(s.OperationID(), s)
	if e.isStarted() {
		fmetrics.ActiveMachines.Inc()
		e.spawnDriver(s.OperationID(), s)
	}
	return Added, nil
}

// AddStateMachines implements smkit.GlobalContext, letting a transition
// function fan out further machines within its own store.Tx. Inserts are
// idempotent like top-level admission; each newly inserted machine is staged
// on the transaction so its driver starts only after the commit is durable.
func (e *Executor) AddStateMachines(ctx context.Context, tx smkit.Tx, states ...smkit.ErasedState) error {
	storeTx, ok := tx.(*store.Tx)
	if !ok {
		return fmt.Errorf("executor: unexpected tx type %T", tx)
	}
	for _, s := range states {
		if !e.validIDs[s.ModuleInstanceID()] {
			return ferrors.New(ferrors.KindAdmissionRejected,
				fmt.Sprintf("module instance %d is not registered", s.ModuleInstanceID()))
		}
		encoded, err := s.CanonicalEncode()
		if err != nil {
			return ferrors.Wrap(ferrors.KindEncodingFailure, "encode fanned-out machine", err)
		}
		key := store.ActiveKey(s.ModuleInstanceID(), s.OperationID(), encoded)
		_, exists, err := storeTx.Get(store.BucketActive, key)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := storeTx.InsertActive(s.ModuleInstanceID(), s.OperationID(), encoded); err != nil {
			return err
		}
		storeTx.StageFanout(s)
	}
	return nil
}

// Start scans the active bucket and spawns a driver goroutine for every
// machine found, which is also the crash-recovery path. Rows whose module
// has no registered decoder are left untouched and skipped; machines of a
// module whose backup recovery has not finished are likewise left in place
// for a later Start. Calling Start more than once is a no-op.
func (e *Executor) Start(ctx context.Context) error {
	e.stoppedMu.Lock()
	if e.started {
		e.stoppedMu.Unlock()
		return nil
	}
	e.started = true
	e.stoppedMu.Unlock()

	var recovered []dynstate.DynState
	err := e.db.View(ctx, func(tx *store.Tx) error {
		return tx.Iterate(store.BucketActive, nil, func(key, value []byte) error {
			instanceID, _, encoded, ok := store.SplitActiveKey(key)
			if !ok {
				e.log.Warn().Msg("skipping malformed active row on restart")
				return nil
			}
			if rec, present, rErr := tx.GetModuleRecovery(instanceID); rErr != nil {
				return rErr
			} else if present && !rec.Done {
				e.log.Info().Uint16("module_instance", uint16(instanceID)).
					Msg("module recovery in progress; leaving its machines undriven")
				return nil
			}
			ds, err := e.registry.DecodeWithInstance(instanceID, encoded)
			if err != nil {
				e.log.Warn().Err(err).Msg("skipping active row with no registered decoder on restart")
				return nil
			}
			recovered = append(recovered, ds)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("executor: scan active bucket: %w", err)
	}

	for _, ds := range recovered {
		fmetrics.ActiveMachines.Inc()
		e.spawnDriver(ds.OperationID(), ds)
	}
	e.log.Info().Int("recovered", len(recovered)).Msg("executor started")
	return nil
}

func (e *Executor) isStarted() bool {
	e.stoppedMu.Lock()
	defer e.stoppedMu.Unlock()
	return e.started
}

// Stop cancels every driver goroutine and the oplog writer, then waits up to
// the TaskGroup's grace period for them to exit cleanly.
func (e *Executor) Stop(ctx context.Context) error {
	e.stoppedMu.Lock()
	if e.stopped {
		e.stoppedMu.Unlock()
		return nil
	}
	e.stopped = true
	e.stoppedMu.Unlock()

	e.index.cancelAll()
	return e.tasks.Stop()
}

// IsStopped reports whether Stop has been called.
func (e *Executor) IsStopped() bool {
	e.stoppedMu.Lock()
	defer e.stoppedMu.Unlock()
	return e.stopped
}

// Subscribe returns a live update stream for opID.
func (e *Executor) Subscribe(opID smkit.OperationId) *notifier.Subscription {
	return e.notif.Subscribe(opID)
}

// AwaitInactive blocks until every machine of opID has moved to inactive, or
// ctx is done. Machines the executor cannot drive (abandoned after a panic,
// or belonging to an unknown module) keep the operation active, so waiting
// on such an operation blocks until ctx cancels.
func (e *Executor) AwaitInactive(ctx context.Context, opID smkit.OperationId) error {
	for {
		done := e.index.doneChan(opID)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		remaining, err := e.activeMachineCount(ctx, opID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) activeMachineCount(ctx context.Context, opID smkit.OperationId) (int, error) {
	var count int
	err := e.db.View(ctx, func(tx *store.Tx) error {
		return tx.Iterate(store.BucketActive, nil, func(key, value []byte) error {
			_, rowOp, _, ok := store.SplitActiveKey(key)
			if ok && rowOp == opID {
				count++
			}
			return nil
		})
	})
	return count, err
}

// GetActiveOperations returns the distinct operation ids across all machines
// currently in the active set, read from the database rather than the
// in-memory index so admitted-but-undriven and abandoned machines still
// count.
func (e *Executor) GetActiveOperations() []smkit.OperationId {
	seen := make(map[smkit.OperationId]struct{})
	err := e.db.View(context.Background(), func(tx *store.Tx) error {
		return tx.Iterate(store.BucketActive, nil, func(key, value []byte) error {
			_, opID, _, ok := store.SplitActiveKey(key)
			if ok {
				seen[opID] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		e.log.Error().Err(err).Msg("failed to scan active operations")
		return nil
	}
	out := make([]smkit.OperationId, 0, len(seen))
	for opID := range seen {
		out = append(out, opID)
	}
	return out
}

// History returns the operation log entries recorded for opID.
func (e *Executor) History(opID smkit.OperationId) ([]oplog.Entry, error) {
	return e.oplogReader.History(opID)
}
