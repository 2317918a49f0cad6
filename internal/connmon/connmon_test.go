package connmon_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pbookspro/synccore/internal/connmon"
)

func TestPollOnceEmitsOnlyOnTransition(t *testing.T) {
	online := int32(0)
	m := connmon.New(connmon.ProberFunc(func(ctx context.Context) bool {
		return atomic.LoadInt32(&online) == 1
	}), time.Millisecond)

	_, changed := m.PollOnce(context.Background())
	require.True(t, changed, "first poll always reports a transition from unknown")
	require.Equal(t, connmon.StateOffline, m.State())

	_, changed = m.PollOnce(context.Background())
	require.False(t, changed, "repeated offline poll must not re-emit")

	atomic.StoreInt32(&online, 1)
	ev, changed := m.PollOnce(context.Background())
	require.True(t, changed)
	require.Equal(t, connmon.StateOffline, ev.From)
	require.Equal(t, connmon.StateOnline, ev.To)
}

func TestRunEmitsTransitionsUntilCancelled(t *testing.T) {
	online := int32(0)
	m := connmon.New(connmon.ProberFunc(func(ctx context.Context) bool {
		return atomic.LoadInt32(&online) == 1
	}), 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ch := m.Run(ctx)

	first := <-ch
	require.Equal(t, connmon.StateOffline, first.To)

	atomic.StoreInt32(&online, 1)
	second := <-ch
	require.Equal(t, connmon.StateOnline, second.To)

	cancel()
	for range ch {
	}
}
