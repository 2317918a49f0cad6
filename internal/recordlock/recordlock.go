// Package recordlock is the lock manager (C8): a cooperative, advisory
// lock over one entity at a time, persisted via internal/localstore and
// handed best-effort to a pluggable Broadcaster on acquire and release.
// The package ships only NopBroadcaster; it has no NATS broadcaster, and
// locks are not replicated to the remote API. Grounded on smarterbase's DistributedLock TTL +
// lock-wait metrics pattern (adapted from Redis SETNX/Lua release to an
// in-memory map + mutex, since this lock is cooperative within one user's
// session rather than a hard cross-process mutex), dolt's
// access_lock.go/store.go OTel-histogram-around-a-critical-section
// template, and internal/lockfile's ErrLocked-style sentinel errors.
package recordlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pbookspro/synccore/internal/debug"
	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/synctypes"
)

// ErrLockHeldByOther is returned by Release when called by a non-owner.
// Acquire reports a lock held by a different user by returning false.
var ErrLockHeldByOther = errors.New("recordlock: held by another user")

// recordlockMetrics holds OTel instruments for lock acquisition, matching
// the teacher's doltMetrics package-var-plus-init() registration template.
var recordlockMetrics struct {
	lockWaitMs metric.Float64Histogram
	acquired   metric.Int64Counter
	denied     metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/pbookspro/synccore/recordlock")
	recordlockMetrics.lockWaitMs, _ = m.Float64Histogram("synccore.lock.wait_ms",
		metric.WithDescription("Time spent attempting to acquire a record lock"),
		metric.WithUnit("ms"),
	)
	recordlockMetrics.acquired, _ = m.Int64Counter("synccore.lock.acquired",
		metric.WithDescription("Record locks successfully acquired or extended"),
		metric.WithUnit("{lock}"),
	)
	recordlockMetrics.denied, _ = m.Int64Counter("synccore.lock.denied",
		metric.WithDescription("Record lock acquisitions denied because another user holds the lock"),
		metric.WithUnit("{lock}"),
	)
}

// Broadcaster fans out lock:acquired / lock:released events to other
// devices. This package provides only NopBroadcaster (also the default
// when New is given nil); tests use a recording stub.
type Broadcaster interface {
	BroadcastLockAcquired(ctx context.Context, lock synctypes.RecordLock)
	BroadcastLockReleased(ctx context.Context, entityType synctypes.EntityType, entityID, userID string)
}

// NopBroadcaster discards every event.
type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastLockAcquired(context.Context, synctypes.RecordLock)          {}
func (NopBroadcaster) BroadcastLockReleased(context.Context, synctypes.EntityType, string, string) {}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type Manager struct {
	store       localstore.Store
	broadcaster Broadcaster
	clock       Clock
	ttl         time.Duration

	mu    sync.Mutex
	locks map[string]synctypes.RecordLock
}

func New(store localstore.Store, broadcaster Broadcaster, clock Clock, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = synctypes.DefaultLockTTL
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &Manager{
		store:       store,
		broadcaster: broadcaster,
		clock:       clock,
		ttl:         ttl,
		locks:       make(map[string]synctypes.RecordLock),
	}
}

// LoadFromStore reloads the in-memory map from the local store on startup,
// discarding anything already expired (spec §4.5).
func (m *Manager) LoadFromStore(ctx context.Context, tenantID string) error {
	var all []synctypes.RecordLock
	err := m.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		var err error
		all, err = tx.ListLocks(ctx, tenantID)
		return err
	})
	if err != nil {
		return err
	}

	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lock := range all {
		if lock.Expired(now) {
			continue
		}
		m.locks[lockKey(lock.EntityType, lock.EntityID)] = lock
	}
	return nil
}

// Acquire tries to lock (entityType, entityID) for userID. Re-acquiring an
// unexpired lock already held by userID extends it. A lock held by a
// different user makes the call return false with a nil error (spec §4.5).
func (m *Manager) Acquire(ctx context.Context, entityType synctypes.EntityType, entityID, userID, userName, tenantID string) (bool, error) {
	start := m.clock.Now()
	key := lockKey(entityType, entityID)

	m.mu.Lock()
	existing, found := m.locks[key]
	now := m.clock.Now()
	if found && !existing.Expired(now) && existing.UserID != userID {
		m.mu.Unlock()
		recordlockMetrics.denied.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", string(entityType))))
		return false, nil
	}

	lock := synctypes.RecordLock{
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		UserName:   userName,
		TenantID:   tenantID,
		LockedAt:   now,
		ExpiresAt:  now.Add(m.ttl),
	}
	m.locks[key] = lock
	m.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("entity_type", string(entityType)))
	recordlockMetrics.lockWaitMs.Record(ctx, float64(m.clock.Now().Sub(start).Milliseconds()), attrs)
	recordlockMetrics.acquired.Add(ctx, 1, attrs)

	if err := m.persist(ctx, lock); err != nil {
		debug.Logf("recordlock: persist %s/%s failed: %v\n", entityType, entityID, err)
	}
	// Fan-out is best-effort: the broadcaster returns nothing, so it cannot
	// fail the acquisition. The lock is not replicated to the remote API.
	m.broadcaster.BroadcastLockAcquired(ctx, lock)

	return true, nil
}

// Release drops the lock, but only if userID is the current owner.
func (m *Manager) Release(ctx context.Context, entityType synctypes.EntityType, entityID, userID string) error {
	key := lockKey(entityType, entityID)

	m.mu.Lock()
	existing, found := m.locks[key]
	if !found {
		m.mu.Unlock()
		return nil
	}
	if existing.UserID != userID {
		m.mu.Unlock()
		return fmt.Errorf("recordlock: release %s/%s: %w", entityType, entityID, ErrLockHeldByOther)
	}
	delete(m.locks, key)
	m.mu.Unlock()

	if err := m.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		return tx.DeleteLock(ctx, entityType, entityID)
	}); err != nil {
		debug.Logf("recordlock: delete %s/%s failed: %v\n", entityType, entityID, err)
	}
	m.broadcaster.BroadcastLockReleased(ctx, entityType, entityID, userID)
	return nil
}

// Get returns the current lock, transparently dropping it if expired.
func (m *Manager) Get(entityType synctypes.EntityType, entityID string) (synctypes.RecordLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lockKey(entityType, entityID)
	lock, found := m.locks[key]
	if !found {
		return synctypes.RecordLock{}, false
	}
	if lock.Expired(m.clock.Now()) {
		delete(m.locks, key)
		return synctypes.RecordLock{}, false
	}
	return lock, true
}

// IsOwner reports whether userID currently holds the lock.
func (m *Manager) IsOwner(entityType synctypes.EntityType, entityID, userID string) bool {
	lock, found := m.Get(entityType, entityID)
	return found && lock.UserID == userID
}

// Owner returns the current holder's user ID, or "" if unlocked.
func (m *Manager) Owner(entityType synctypes.EntityType, entityID string) string {
	lock, found := m.Get(entityType, entityID)
	if !found {
		return ""
	}
	return lock.UserID
}

// Sweep purges every expired lock from memory and the local store. Intended
// to run on a ticker (config.LockSweepInterval, default once a minute).
func (m *Manager) Sweep(ctx context.Context) error {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []synctypes.RecordLock
	for key, lock := range m.locks {
		if lock.Expired(now) {
			expired = append(expired, lock)
			delete(m.locks, key)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}

	return m.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		for _, lock := range expired {
			if err := tx.DeleteLock(ctx, lock.EntityType, lock.EntityID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run starts the background sweep loop, matching internal/connmon.Run's
// ticker-plus-goroutine shape, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				debug.Logf("recordlock: sweep failed: %v\n", err)
			}
		}
	}
}

// OnLockAcquired applies an inbound lock:acquired realtime event, overwriting
// the local copy only if the inbound lock is newer (spec §4.5).
func (m *Manager) OnLockAcquired(lock synctypes.RecordLock) {
	key := lockKey(lock.EntityType, lock.EntityID)
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, found := m.locks[key]
	if found && !lock.LockedAt.After(existing.LockedAt) {
		return
	}
	m.locks[key] = lock
}

// OnLockReleased applies an inbound lock:released realtime event.
func (m *Manager) OnLockReleased(entityType synctypes.EntityType, entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, lockKey(entityType, entityID))
}

func (m *Manager) persist(ctx context.Context, lock synctypes.RecordLock) error {
	return m.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		return tx.PutLock(ctx, lock)
	})
}

func lockKey(entityType synctypes.EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}
