package notifier

import (
	"testing"
	"time"

	"github.com/MrImmortal09/fedimint/internal/modules/pingpong"
	"github.com/MrImmortal09/fedimint/pkg/smkit"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReplaysSnapshotThenLiveUpdates(t *testing.T) {
	n := New(DefaultRingSize)
	opID := smkit.OperationId{0x01}

	a := pingpong.NewMachine(1, opID)
	n.Publish(opID, a)

	sub := n.Subscribe(opID)
	defer sub.Unsubscribe()

	select {
	case u := <-sub.C:
		require.True(t, u.State.Equal(a))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed snapshot")
	}

	b := pingpong.NewMachine(2, opID)
	n.Publish(opID, b)
	select {
	case u := <-sub.C:
		require.True(t, u.State.Equal(b))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live update")
	}
}

func TestSlowSubscriberIsLaggedNotBlocked(t *testing.T) {
	n := New(DefaultRingSize)
	opID := smkit.OperationId{0x02}
	sub := n.Subscribe(opID)
	defer sub.Unsubscribe()

	// Fill the subscriber's channel past capacity without ever reading, so
	// Publish must fast-forward instead of blocking.
	for i := 0; i < DefaultRingSize+10; i++ {
		n.Publish(opID, pingpong.NewMachine(smkit.ModuleInstanceId(i%3), opID))
	}

	var lastLag int
	var gotLag bool
drainLoop:
	for {
		select {
		case u := <-sub.C:
			if u.Lagged > 0 {
				lastLag = u.Lagged
				gotLag = true
			}
		default:
			break drainLoop
		}
	}
	require.True(t, gotLag, "expected at least one Lagged marker for an overwhelmed subscriber")
	require.Greater(t, lastLag, 0)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := New(DefaultRingSize)
	opID := smkit.OperationId{0x03}
	sub := n.Subscribe(opID)
	sub.Unsubscribe()

	_, ok := <-sub.C
	require.False(t, ok)
}

func TestRingSizeFloorsAtDefault(t *testing.T) {
	n := New(1)
	require.Equal(t, DefaultRingSize, n.ringSize)
}
