// Package notifier implements the executor's state-change broadcast: a
// keyed fan-out with one replay ring buffer and one set of subscriber
// channels per OperationId.
package notifier

import (
	"sync"

	"github.com/MrImmortal09/fedimint/pkg/fmetrics"
	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/MrImmortal09/fedimint/pkg/smkit/dynstate"
)

// DefaultRingSize is the minimum per-operation replay buffer size.
const DefaultRingSize = 1024

// Update is what a Subscription receives: either a DynState the operation
// transitioned into, or a Lagged marker reporting that n entries were
// dropped before State, the ring's current tail at the time of the
// fast-forward.
type Update struct {
	State  dynstate.DynState
	Lagged int
}

// Subscription is a live handle on one operation's update stream. Callers
// range over C until Unsubscribe closes it.
type Subscription struct {
	OpID smkit.OperationId
	C    <-chan Update

	n    *Notifier
	ch   chan Update
	once sync.Once
}

// Unsubscribe detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.n.unsubscribe(s.OpID, s.ch)
	})
}

type ring struct {
	buf   []dynstate.DynState
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]dynstate.DynState, capacity)}
}

func (r *ring) push(s dynstate.DynState) {
	cap := len(r.buf)
	idx := (r.start + r.count) % cap
	r.buf[idx] = s
	if r.count < cap {
		r.count++
	} else {
		r.start = (r.start + 1) % cap
	}
}

func (r *ring) snapshot() []dynstate.DynState {
	out := make([]dynstate.DynState, r.count)
	cap := len(r.buf)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%cap]
	}
	return out
}

func (r *ring) tail() (dynstate.DynState, bool) {
	if r.count == 0 {
		return dynstate.DynState{}, false
	}
	cap := len(r.buf)
	idx := (r.start + r.count - 1) % cap
	return r.buf[idx], true
}

type opChannel struct {
	mu   sync.RWMutex
	ring *ring
	subs map[chan Update]bool
}

// Notifier is the executor's keyed broadcast. Publish is always called
// after a store.Tx has committed, never from inside one.
type Notifier struct {
	mu       sync.RWMutex
	ops      map[smkit.OperationId]*opChannel
	ringSize int
}

// New constructs a Notifier with the given per-operation ring capacity. A
// ringSize below DefaultRingSize is rejected in favor of the default; the
// default is a floor, not a tunable ceiling.
func New(ringSize int) *Notifier {
	if ringSize < DefaultRingSize {
		ringSize = DefaultRingSize
	}
	return &Notifier{
		ops:      make(map[smkit.OperationId]*opChannel),
		ringSize: ringSize,
	}
}

func (n *Notifier) opFor(opID smkit.OperationId) *opChannel {
	n.mu.RLock()
	oc, ok := n.ops[opID]
	n.mu.RUnlock()
	if ok {
		return oc
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if oc, ok := n.ops[opID]; ok {
		return oc
	}
	oc = &opChannel{
		ring: newRing(n.ringSize),
		subs: make(map[chan Update]bool),
	}
	n.ops[opID] = oc
	return oc
}

// Publish appends state to opID's ring and fans it out to every live
// subscriber. A subscriber whose channel is full is fast-forwarded: its
// buffered updates are drained and replaced with a single Lagged marker
// carrying the current tail, so Publish never blocks on a slow reader.
func (n *Notifier) Publish(opID smkit.OperationId, state dynstate.DynState) {
	oc := n.opFor(opID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	oc.ring.push(state)
	for ch := range oc.subs {
		select {
		case ch <- Update{State: state}:
		default:
			dropped := drain(ch)
			fmetrics.NotifierLagTotal.Inc()
			select {
			case ch <- Update{State: state, Lagged: dropped}:
			default:
				// Channel refilled concurrently by a racing drain; the next
				// Publish will retry the fast-forward.
			}
		}
	}
}

func drain(ch chan Update) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

// Subscribe returns a Subscription that first replays the operation's
// current ring contents (oldest to newest) into the channel, then streams
// live updates. The replay is synchronous: by the time Subscribe returns,
// the channel's buffer already contains the snapshot.
func (n *Notifier) Subscribe(opID smkit.OperationId) *Subscription {
	oc := n.opFor(opID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	ch := make(chan Update, n.ringSize)
	for _, s := range oc.ring.snapshot() {
		ch <- Update{State: s}
	}
	oc.subs[ch] = true

	return &Subscription{OpID: opID, C: ch, n: n, ch: ch}
}

func (n *Notifier) unsubscribe(opID smkit.OperationId, ch chan Update) {
	n.mu.RLock()
	oc, ok := n.ops[opID]
	n.mu.RUnlock()
	if !ok {
		return
	}
	oc.mu.Lock()
	if oc.subs[ch] {
		delete(oc.subs, ch)
		close(ch)
	}
	oc.mu.Unlock()
}
