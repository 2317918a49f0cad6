package synccoordinator_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbookspro/synccore/internal/conflictlog"
	"github.com/pbookspro/synccore/internal/connmon"
	"github.com/pbookspro/synccore/internal/downstream"
	"github.com/pbookspro/synccore/internal/localstore/memstore"
	"github.com/pbookspro/synccore/internal/outbox"
	"github.com/pbookspro/synccore/internal/recordlock"
	"github.com/pbookspro/synccore/internal/remoteapi"
	"github.com/pbookspro/synccore/internal/synccoordinator"
	"github.com/pbookspro/synccore/internal/synctypes"
	"github.com/pbookspro/synccore/internal/syncmeta"
	"github.com/pbookspro/synccore/internal/upstream"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type seqIDs struct{ n int32 }

func (s *seqIDs) NewID() string {
	n := atomic.AddInt32(&s.n, 1)
	return "id" + string(rune('0'+n))
}

func harness(t *testing.T, now time.Time, cooldown time.Duration) (*synccoordinator.Coordinator, *outbox.Outbox, *remoteapi.FakeClient, *connmon.Monitor, *atomic.Bool) {
	t.Helper()
	store := memstore.New()
	clock := fixedClock{t: now}

	ob := outbox.New(store, clock, &seqIDs{})
	meta := syncmeta.New(store)
	locks := recordlock.New(store, nil, clock, 5*time.Minute)
	client := remoteapi.NewFakeClient()
	conflict := conflictlog.New(store)

	up := upstream.New(ob, meta, locks, client, conflict, clock, &seqIDs{})
	down := downstream.New(store, meta, client, conflict, clock, &seqIDs{}, func() int { return 200 }, downstream.NopNotifier{})

	online := &atomic.Bool{}
	prober := connmon.ProberFunc(func(ctx context.Context) bool { return online.Load() })
	mon := connmon.New(prober, 10*time.Millisecond)

	c := synccoordinator.New(up, down, mon, clock, cooldown)
	return c, ob, client, mon, online
}

func TestRunSyncPushesAndPulls(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, ob, client, _, _ := harness(t, now, 2*time.Minute)

	_, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)
	client.PullResult = remoteapi.PulledEntities{}

	result, err := c.RunSync(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Upstream.Pushed)
	assert.False(t, c.IsRunning())
}

func TestRunSyncSecondCallAfterCompletionSeesDrainedOutbox(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, ob, _, _, _ := harness(t, now, 2*time.Minute)

	_, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)

	first, err := c.RunSync(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Upstream.Pushed)
	assert.False(t, c.IsRunning())

	second, err := c.RunSync(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Upstream.Pushed)
	assert.False(t, c.IsRunning())
}

func TestStartTriggersSyncOnOnlineTransition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, ob, client, _, online := harness(t, now, 0)

	_, err := ob.Enqueue(context.Background(), "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)

	c.Start(ctx, "t1")
	online.Store(true)

	deadline := time.After(2 * time.Second)
	for {
		if len(client.PushCalls) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for connectivity-triggered sync")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.Stop()
}

func TestRunSyncReturnsZeroResultWhenOffline(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, ob, client, mon, online := harness(t, now, 2*time.Minute)

	_, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)

	online.Store(false)
	mon.PollOnce(ctx)

	result, err := c.RunSync(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, synccoordinator.Result{}, result)
	assert.Empty(t, client.PushCalls)
	assert.False(t, c.IsRunning())

	pending, err := ob.GetPending(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
