package executor

import (
	"sync"

	"github.com/MrImmortal09/fedimint/pkg/smkit"
)

// machineID is a synthetic, in-memory-only identity for one driver
// goroutine's lineage: admission assigns one, and it follows the machine
// through every transition until it goes inactive. It is never persisted —
// restart recovery assigns fresh ids to whatever it finds in the active
// bucket.
type machineID uint64

// activeIndex tracks live driver goroutines and per-operation completion,
// with a per-operation reference count backing AwaitInactive.
type activeIndex struct {
	mu       sync.Mutex
	nextID   machineID
	cancels  map[machineID]func()
	opCounts map[smkit.OperationId]int
	opDone   map[smkit.OperationId]chan struct{}
}

func newActiveIndex() *activeIndex {
	return &activeIndex{
		cancels:  make(map[machineID]func()),
		opCounts: make(map[smkit.OperationId]int),
		opDone:   make(map[smkit.OperationId]chan struct{}),
	}
}

// admit allocates a machineID for a newly admitted or recovered machine and
// bumps its operation's reference count.
func (idx *activeIndex) admit(opID smkit.OperationId, cancel func()) machineID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.nextID++
	id := idx.nextID
	idx.cancels[id] = cancel
	idx.opCounts[opID]++
	if _, ok := idx.opDone[opID]; !ok {
		idx.opDone[opID] = make(chan struct{})
	}
	return id
}

// retire removes a machine from the index once it goes inactive. When the
// last machine of an operation retires, its done channel is closed so
// AwaitInactive callers unblock.
func (idx *activeIndex) retire(id machineID, opID smkit.OperationId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.cancels, id)
	idx.opCounts[opID]--
	if idx.opCounts[opID] <= 0 {
		delete(idx.opCounts, opID)
		if ch, ok := idx.opDone[opID]; ok {
			close(ch)
			delete(idx.opDone, opID)
		}
	}
}

// doneChan returns (and lazily creates) the completion channel for opID. If
// the operation has no active machines right now, the returned channel is
// already closed.
func (idx *activeIndex) doneChan(opID smkit.OperationId) <-chan struct{} {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.opCounts[opID] <= 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch, ok := idx.opDone[opID]
	if !ok {
		ch = make(chan struct{})
		idx.opDone[opID] = ch
	}
	return ch
}

// cancelAll cancels every live driver's context, used by Stop.
func (idx *activeIndex) cancelAll() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, cancel := range idx.cancels {
		cancel()
	}
}

// liveCount reports the number of currently tracked machines, for tests and
// metrics.
func (idx *activeIndex) liveCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.cancels)
}
