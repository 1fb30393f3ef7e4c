package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrImmortal09/fedimint/pkg/ferrors"
	"github.com/MrImmortal09/fedimint/pkg/fmetrics"
	"github.com/MrImmortal09/fedimint/pkg/oplog"
	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/MrImmortal09/fedimint/pkg/smkit/dynstate"
	"github.com/MrImmortal09/fedimint/pkg/store"
)

// spawnDriver admits opID's machine into the active index and launches its
// driver goroutine under the executor's TaskGroup.
func (e *Executor) spawnDriver(opID smkit.OperationId, initial dynstate.DynState) {
	driverCtx, cancel := context.WithCancel(e.tasks.Context())
	id := e.index.admit(opID, cancel)
	e.tasks.Go(func(_ context.Context) {
		defer cancel()
		defer e.index.retire(id, opID)
		e.runDriver(driverCtx, initial)
	})
}

// cycleAction tells runDriver's loop what to do after one call to runOneCycle.
type cycleAction int

const (
	actionReturn cycleAction = iota
	actionContinue
	actionSleepThenContinue
)

// runDriver loops the per-machine cycle until the machine reaches a
// terminal state or the driver's context is cancelled (shutdown or
// supersession).
func (e *Executor) runDriver(ctx context.Context, current dynstate.DynState) {
	retryConf := DefaultRetryConfig()
	triggerAttempt := 0
	conflictAttempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		action, sleep, next := e.runOneCycle(ctx, current, &triggerAttempt, &conflictAttempt, retryConf)
		switch action {
		case actionReturn:
			return
		case actionSleepThenContinue:
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return
			}
		case actionContinue:
			current = next
		}
	}
}

// runOneCycle runs the per-machine cycle exactly once, holding the
// executor's concurrency slots (if configured) for its duration: re-reading
// the machine's row, enumerating transitions, racing triggers, and
// committing the winner. It never retries internally; the caller's loop
// decides whether to sleep and retry based on the returned cycleAction.
func (e *Executor) runOneCycle(ctx context.Context, current dynstate.DynState, triggerAttempt, conflictAttempt *int, retryConf RetryConfig) (cycleAction, time.Duration, dynstate.DynState) {
	instanceID := current.ModuleInstanceID()
	opID := current.OperationID()

	if !e.acquireCycleSlot(ctx, instanceID) {
		return actionReturn, 0, current
	}
	defer e.releaseCycleSlot(instanceID)

	// Re-read the machine from the active set. A missing row means this
	// driver lost a race (duplicate spawn, or a concurrent restart already
	// drove the machine forward) and must bow out.
	present, err := e.activeRowPresent(ctx, current)
	if err != nil {
		e.log.Error().Err(err).Str("operation_id", opID.String()).
			Msg("failed to re-read active row; abandoning machine")
		return actionReturn, 0, current
	}
	if !present {
		return actionReturn, 0, current
	}

	moduleCtx, ok := e.moduleCtx[instanceID]
	if !ok {
		e.log.Error().Uint16("module_instance", uint16(instanceID)).
			Msg("driver has no module context wired; abandoning machine")
		return actionReturn, 0, current
	}

	transitions, panicErr := e.safeTransitions(ctx, current, moduleCtx)
	if panicErr != nil {
		e.log.Error().Err(panicErr).Str("operation_id", opID.String()).
			Msg("transitions enumeration panicked; abandoning this machine only")
		return actionReturn, 0, current
	}

	if len(transitions) == 0 {
		e.commitTerminal(ctx, current)
		return actionReturn, 0, current
	}

	cycleTimer := fmetrics.NewTimer()

	idx, value, err := e.raceTriggers(ctx, transitions)
	if err != nil {
		if ferrors.Is(err, ferrors.KindTriggerCancelled) {
			return actionReturn, 0, current
		}
		delay := retryConf.backoffDuration(*triggerAttempt)
		*triggerAttempt++
		e.log.Debug().Str("operation_id", opID.String()).Dur("backoff", delay).
			Msg("no trigger fired; retrying after backoff")
		return actionSleepThenContinue, delay, current
	}
	*triggerAttempt = 0

	successor, terminal, err := e.commitTransition(ctx, current, transitions[idx], value)
	if err != nil {
		if ferrors.Is(err, ferrors.KindCommitConflict) {
			fmetrics.CommitConflictsTotal.WithLabelValues(moduleLabel(e, instanceID)).Inc()
			delay := retryConf.backoffDuration(*conflictAttempt)
			*conflictAttempt++
			fmetrics.DriverRetryCount.WithLabelValues(opID.String()).Set(float64(*conflictAttempt))
			return actionSleepThenContinue, delay, current
		}
		if ferrors.Is(err, ferrors.KindTransitionPanicked) {
			fmetrics.TransitionsTotal.WithLabelValues(moduleLabel(e, instanceID), "panicked").Inc()
			payload, _ := json.Marshal(map[string]string{"error": err.Error()})
			if appendErr := e.oplogWriter.Append(ctx, oplog.KindError, opID, payload); appendErr != nil {
				e.log.Warn().Err(appendErr).Msg("failed to append oplog error entry")
			}
		}
		e.log.Error().Err(err).Str("operation_id", opID.String()).
			Msg("driver cycle failed; abandoning this machine")
		return actionReturn, 0, current
	}
	*conflictAttempt = 0
	fmetrics.DriverRetryCount.DeleteLabelValues(opID.String())
	cycleTimer.ObserveDurationVec(fmetrics.TransitionDuration, moduleLabel(e, instanceID))

	if terminal {
		return actionReturn, 0, current
	}
	return actionContinue, 0, successor
}

// acquireCycleSlot blocks until a global concurrency slot and (if the module
// has one) a per-module slot are free, or ctx is done. A nil semaphore means
// no cap: every machine runs its cycle immediately.
func (e *Executor) acquireCycleSlot(ctx context.Context, instanceID smkit.ModuleInstanceId) bool {
	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return false
		}
	}
	if mSem := e.moduleSems[instanceID]; mSem != nil {
		select {
		case mSem <- struct{}{}:
		case <-ctx.Done():
			if e.sem != nil {
				<-e.sem
			}
			return false
		}
	}
	return true
}

func (e *Executor) releaseCycleSlot(instanceID smkit.ModuleInstanceId) {
	if mSem := e.moduleSems[instanceID]; mSem != nil {
		<-mSem
	}
	if e.sem != nil {
		<-e.sem
	}
}

// activeRowPresent reports whether the machine's current state still has its
// row in the active bucket.
func (e *Executor) activeRowPresent(ctx context.Context, ds dynstate.DynState) (bool, error) {
	encoded, err := ds.Inner().CanonicalEncode()
	if err != nil {
		return false, ferrors.Wrap(ferrors.KindEncodingFailure, "encode state for re-read", err)
	}
	var present bool
	err = e.db.View(ctx, func(tx *store.Tx) error {
		_, ok, gErr := tx.Get(store.BucketActive, store.ActiveKey(ds.ModuleInstanceID(), ds.OperationID(), encoded))
		present = ok
		return gErr
	})
	return present, err
}

// safeTransitions calls current.Transitions, recovering from a panic (e.g.
// the wrong-module-context type assertion) so it aborts only this driver,
// never the process.
func (e *Executor) safeTransitions(ctx context.Context, current dynstate.DynState, moduleCtx smkit.Context) (transitions []smkit.ErasedTransition, panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = fmt.Errorf("panic enumerating transitions: %v", r)
		}
	}()
	transitions = current.Transitions(ctx, moduleCtx, e)
	return
}

type triggerResult struct {
	idx   int
	value json.RawMessage
	err   error
}

// triggerSettleWindow bounds how long raceTriggers waits for additional
// triggers to fire after the first one does, so the lowest-index tie-break
// is meaningful without waiting for every straggler.
const triggerSettleWindow = 20 * time.Millisecond

// transitionWatchdogThreshold is how long a transition function may run
// before the driver logs a warning; transitions are supposed to be quick and
// non-networked, with all blocking concentrated in triggers.
const transitionWatchdogThreshold = 100 * time.Millisecond

// raceTriggers runs every transition's Trigger concurrently and returns the
// lowest-index transition among those that fire within the settle window of
// the first. If every trigger errors, it reports that as "not yet
// triggered" rather than surfacing individual trigger errors.
func (e *Executor) raceTriggers(ctx context.Context, transitions []smkit.ErasedTransition) (int, json.RawMessage, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan triggerResult, len(transitions))
	for i, t := range transitions {
		i, t := i, t
		go func() {
			v, err := t.Trigger(raceCtx)
			select {
			case results <- triggerResult{idx: i, value: v, err: err}:
			case <-raceCtx.Done():
			}
		}()
	}

	remaining := len(transitions)
	var collected []triggerResult
	var settle <-chan time.Time

	for {
		select {
		case r := <-results:
			remaining--
			if r.err != nil {
				if remaining == 0 && len(collected) == 0 {
					return -1, nil, fmt.Errorf("executor: all triggers failed: %w", r.err)
				}
				continue
			}
			collected = append(collected, r)
			if settle == nil {
				timer := time.NewTimer(triggerSettleWindow)
				defer timer.Stop()
				settle = timer.C
			}
			if remaining == 0 {
				idx, value := pickLowest(collected)
				return idx, value, nil
			}
		case <-settle:
			idx, value := pickLowest(collected)
			return idx, value, nil
		case <-ctx.Done():
			return -1, nil, ferrors.New(ferrors.KindTriggerCancelled, "context cancelled while racing triggers")
		}
	}
}

func pickLowest(collected []triggerResult) (int, json.RawMessage) {
	best := collected[0]
	for _, r := range collected[1:] {
		if r.idx < best.idx {
			best = r
		}
	}
	return best.idx, best.value
}

// commitTransition applies the winning transition inside one store.Tx: it
// verifies the old active row is still present (the commit-conflict check),
// calls Apply, deletes the old row, determines whether the successor is
// terminal, and inserts it into active or inactive accordingly. A panic
// inside Apply is recovered and reported as ferrors.KindTransitionPanicked;
// bbolt's own Tx.Update rolls the transaction back before the panic unwinds
// past it.
func (e *Executor) commitTransition(ctx context.Context, current dynstate.DynState, t smkit.ErasedTransition, value json.RawMessage) (successor dynstate.DynState, terminal bool, err error) {
	instanceID := current.ModuleInstanceID()
	opID := current.OperationID()

	currentEncoded, encErr := current.Inner().CanonicalEncode()
	if encErr != nil {
		return dynstate.DynState{}, false, ferrors.Wrap(ferrors.KindEncodingFailure, "encode current state", encErr)
	}

	defer func() {
		if r := recover(); r != nil {
			err = ferrors.New(ferrors.KindTransitionPanicked, fmt.Sprintf("transition panicked: %v", r))
		}
	}()

	var successorErased smkit.ErasedState
	var staged []smkit.ErasedState

	txErr := e.db.Update(ctx, func(tx *store.Tx) error {
		_, stillPresent, gErr := tx.Get(store.BucketActive, store.ActiveKey(instanceID, opID, currentEncoded))
		if gErr != nil {
			return gErr
		}
		if !stillPresent {
			return ferrors.New(ferrors.KindCommitConflict, "active row superseded before commit")
		}
		if e.conflictInjector != nil && e.conflictInjector(opID) {
			return ferrors.New(ferrors.KindCommitConflict, "injected commit conflict")
		}

		applyStart := time.Now()
		next, aErr := t.Apply(ctx, tx, value)
		if d := time.Since(applyStart); d > transitionWatchdogThreshold {
			e.log.Warn().Dur("took", d).Str("operation_id", opID.String()).
				Msg("transition function exceeded watchdog threshold; transitions must not block")
		}
		if aErr != nil {
			return ferrors.Wrap(ferrors.KindTransitionPanicked, "transition apply failed", aErr)
		}
		successorErased = next

		if rErr := tx.RemoveActive(instanceID, opID, currentEncoded); rErr != nil {
			return rErr
		}

		successorDS := dynstate.FromErased(instanceID, next)
		nextTransitions, pErr := e.safeTransitions(ctx, successorDS, e.moduleCtx[instanceID])
		if pErr != nil {
			return ferrors.New(ferrors.KindTransitionPanicked, pErr.Error())
		}
		terminal = len(nextTransitions) == 0

		successorEncoded, sErr := next.CanonicalEncode()
		if sErr != nil {
			return ferrors.Wrap(ferrors.KindEncodingFailure, "encode successor state", sErr)
		}
		if terminal {
			if iErr := tx.InsertInactive(instanceID, opID, successorEncoded, uint64(time.Now().UnixNano())); iErr != nil {
				return iErr
			}
		} else if iErr := tx.InsertActive(instanceID, opID, successorEncoded); iErr != nil {
			return iErr
		}
		staged = tx.StagedFanout()
		return nil
	})
	if txErr != nil {
		return dynstate.DynState{}, false, txErr
	}

	successor = dynstate.FromErased(instanceID, successorErased)

	kindLabel := moduleLabel(e, instanceID)
	fmetrics.TransitionsTotal.WithLabelValues(kindLabel, "ok").Inc()

	entryKind := oplog.KindProgress
	if terminal {
		entryKind = oplog.KindTerminal
	}
	if appendErr := e.oplogWriter.Append(ctx, entryKind, opID, nil); appendErr != nil {
		e.log.Warn().Err(appendErr).Msg("failed to append oplog entry")
	}

	e.notif.Publish(opID, successor)

	for _, s := range staged {
		spawned := dynstate.FromErased(s.ModuleInstanceID(), s)
		fmetrics.ActiveMachines.Inc()
		e.notif.Publish(spawned.OperationID(), spawned)
		e.spawnDriver(spawned.OperationID(), spawned)
	}

	if terminal {
		fmetrics.OperationsCompletedTotal.Inc()
		fmetrics.ActiveMachines.Dec()
	}

	return successor, terminal, nil
}

// commitTerminal handles a machine that is already terminal at the top of a
// cycle (its Transitions call returned no edges before any trigger raced):
// move it straight from active to inactive in one store.Tx.
func (e *Executor) commitTerminal(ctx context.Context, current dynstate.DynState) {
	instanceID := current.ModuleInstanceID()
	opID := current.OperationID()

	encoded, err := current.Inner().CanonicalEncode()
	if err != nil {
		e.log.Error().Err(err).Msg("failed to encode terminal state")
		return
	}

	err = e.db.Update(ctx, func(tx *store.Tx) error {
		if rErr := tx.RemoveActive(instanceID, opID, encoded); rErr != nil {
			return rErr
		}
		return tx.InsertInactive(instanceID, opID, encoded, uint64(time.Now().UnixNano()))
	})
	if err != nil {
		e.log.Error().Err(err).Msg("failed to commit terminal machine")
		return
	}

	if appendErr := e.oplogWriter.Append(ctx, oplog.KindTerminalObserved, opID, nil); appendErr != nil {
		e.log.Warn().Err(appendErr).Msg("failed to append oplog terminal-observed entry")
	}

	e.notif.Publish(opID, current)
	fmetrics.OperationsCompletedTotal.Inc()
	fmetrics.ActiveMachines.Dec()
}

func moduleLabel(e *Executor, instanceID smkit.ModuleInstanceId) string {
	if kind, ok := e.registry.Kind(instanceID); ok {
		return string(kind)
	}
	return fmt.Sprintf("instance-%d", instanceID)
}
