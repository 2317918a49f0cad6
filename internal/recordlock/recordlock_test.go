package recordlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pbookspro/synccore/internal/localstore/memstore"
	"github.com/pbookspro/synccore/internal/recordlock"
	"github.com/pbookspro/synccore/internal/synctypes"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type recordingBroadcaster struct {
	acquired []synctypes.RecordLock
	released int
}

func (b *recordingBroadcaster) BroadcastLockAcquired(_ context.Context, lock synctypes.RecordLock) {
	b.acquired = append(b.acquired, lock)
}
func (b *recordingBroadcaster) BroadcastLockReleased(context.Context, synctypes.EntityType, string, string) {
	b.released++
}

func TestAcquireGrantsThenDeniesOtherUser(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock{t: time.Now().UTC()}
	bc := &recordingBroadcaster{}
	m := recordlock.New(memstore.New(), bc, clock, time.Minute)

	ok, err := m.Acquire(ctx, synctypes.EntityInvoices, "inv1", "u1", "Alice", "t1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, synctypes.EntityInvoices, "inv1", "u2", "Bob", "t1")
	require.NoError(t, err)
	require.False(t, ok, "lock held by u1 must deny u2")
	require.Len(t, bc.acquired, 1)
}

func TestAcquireBySameUserExtends(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock{t: time.Now().UTC()}
	m := recordlock.New(memstore.New(), nil, clock, time.Minute)

	ok, err := m.Acquire(ctx, synctypes.EntityInvoices, "inv1", "u1", "Alice", "t1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, synctypes.EntityInvoices, "inv1", "u1", "Alice", "t1")
	require.NoError(t, err)
	require.True(t, ok, "same owner re-acquiring must extend, not deny")
}

func TestReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock{t: time.Now().UTC()}
	bc := &recordingBroadcaster{}
	m := recordlock.New(memstore.New(), bc, clock, time.Minute)

	_, err := m.Acquire(ctx, synctypes.EntityInvoices, "inv1", "u1", "Alice", "t1")
	require.NoError(t, err)

	err = m.Release(ctx, synctypes.EntityInvoices, "inv1", "u2")
	require.Error(t, err)
	require.True(t, m.IsOwner(synctypes.EntityInvoices, "inv1", "u1"))

	err = m.Release(ctx, synctypes.EntityInvoices, "inv1", "u1")
	require.NoError(t, err)
	require.False(t, m.IsOwner(synctypes.EntityInvoices, "inv1", "u1"))
	require.Equal(t, 1, bc.released)
}

func TestGetDropsExpiredLock(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	clock := &mutableClock{t: now}
	m := recordlock.New(memstore.New(), nil, clock, time.Minute)

	_, err := m.Acquire(ctx, synctypes.EntityInvoices, "inv1", "u1", "Alice", "t1")
	require.NoError(t, err)

	clock.t = now.Add(2 * time.Minute)
	_, found := m.Get(synctypes.EntityInvoices, "inv1")
	require.False(t, found)
}

func TestSweepPurgesExpiredLocks(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	clock := &mutableClock{t: now}
	m := recordlock.New(memstore.New(), nil, clock, time.Minute)

	_, err := m.Acquire(ctx, synctypes.EntityInvoices, "inv1", "u1", "Alice", "t1")
	require.NoError(t, err)

	clock.t = now.Add(2 * time.Minute)
	require.NoError(t, m.Sweep(ctx))

	_, found := m.Get(synctypes.EntityInvoices, "inv1")
	require.False(t, found)
}

func TestOnLockAcquiredIgnoresStaleInbound(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{t: now}
	m := recordlock.New(memstore.New(), nil, clock, time.Minute)

	m.OnLockAcquired(synctypes.RecordLock{
		EntityType: synctypes.EntityInvoices, EntityID: "inv1", UserID: "u1",
		LockedAt: now, ExpiresAt: now.Add(time.Minute),
	})
	m.OnLockAcquired(synctypes.RecordLock{
		EntityType: synctypes.EntityInvoices, EntityID: "inv1", UserID: "u2",
		LockedAt: now.Add(-time.Second), ExpiresAt: now.Add(time.Minute),
	})

	require.True(t, m.IsOwner(synctypes.EntityInvoices, "inv1", "u1"), "stale inbound lock must not overwrite")
}

type mutableClock struct{ t time.Time }

func (c *mutableClock) Now() time.Time { return c.t }
