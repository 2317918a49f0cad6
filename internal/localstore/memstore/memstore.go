// Package memstore is a pure in-memory localstore.Store, used by every
// package's tests and by the end-to-end scenario tests in
// internal/synccoordinator. It implements the same contract as
// internal/localstore/sqlitestore so component code is backend-agnostic.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/synctypes"
)

// Store is a localstore.Store backed by in-memory maps behind a single
// mutex. WithTx holds that mutex for the duration of fn, which gives the
// same one-writer-at-a-time guarantee the teacher's withTx gives around a
// *sql.Tx (spec §5's store-level mutex).
type Store struct {
	mu sync.RWMutex

	entities map[synctypes.EntityType]map[string]map[string]any
	outbox   map[string]synctypes.OutboxItem
	meta     map[string]synctypes.SyncMetadata // key: tenantID + "/" + entityType
	conflict []synctypes.ConflictEntry
	locks    map[string]synctypes.RecordLock // key: lockRowID

	fkEnabled bool
}

// New returns an empty Store with FK enforcement on, matching sqlitestore,
// which opens its connection with foreign_keys enabled.
func New() *Store {
	return &Store{
		entities:  make(map[synctypes.EntityType]map[string]map[string]any),
		outbox:    make(map[string]synctypes.OutboxItem),
		meta:      make(map[string]synctypes.SyncMetadata),
		conflict:  nil,
		locks:     make(map[string]synctypes.RecordLock),
		fkEnabled: true,
	}
}

// WithTx runs fn while holding the store mutex; an error from fn is
// returned as-is (there is no partial rollback to undo for the in-memory
// backend, matching the teacher's note that memory backends are
// test-only conveniences, not crash-safe).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx localstore.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, (*tx)(s))
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

// tx adapts *Store to localstore.Tx; it exists only so WithTx can hand
// callers a Tx value without a second locking layer.
type tx Store

func (t *tx) store() *Store { return (*Store)(t) }

func (t *tx) UpsertEntity(_ context.Context, entityType synctypes.EntityType, id string, fields map[string]any) error {
	s := t.store()
	byID, ok := s.entities[entityType]
	if !ok {
		byID = make(map[string]map[string]any)
		s.entities[entityType] = byID
	}
	cloned := make(map[string]any, len(fields))
	for k, v := range fields {
		cloned[k] = v
	}
	cloned["id"] = id
	byID[id] = cloned
	return nil
}

func (t *tx) GetEntity(_ context.Context, entityType synctypes.EntityType, id string) (map[string]any, bool, error) {
	s := t.store()
	byID, ok := s.entities[entityType]
	if !ok {
		return nil, false, nil
	}
	row, ok := byID[id]
	return row, ok, nil
}

func (t *tx) DeleteEntity(_ context.Context, entityType synctypes.EntityType, id string) error {
	s := t.store()
	if byID, ok := s.entities[entityType]; ok {
		delete(byID, id)
	}
	return nil
}

func (t *tx) ListEntities(_ context.Context, entityType synctypes.EntityType, tenantID string) ([]map[string]any, error) {
	s := t.store()
	byID := s.entities[entityType]
	out := make([]map[string]any, 0, len(byID))
	for _, row := range byID {
		if tenantID != "" {
			rec := synctypes.NewEntityRecordFromFields(entityType, row)
			if rec.TenantID != tenantID {
				continue
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *tx) SetForeignKeysEnabled(_ context.Context, enabled bool) error {
	t.store().fkEnabled = enabled
	return nil
}

func (t *tx) InsertOutboxItem(_ context.Context, item synctypes.OutboxItem) error {
	s := t.store()
	if _, exists := s.outbox[item.ID]; exists {
		return localstore.ErrConflict
	}
	s.outbox[item.ID] = item
	return nil
}

func (t *tx) GetOutboxItem(_ context.Context, id string) (synctypes.OutboxItem, bool, error) {
	item, ok := t.store().outbox[id]
	return item, ok, nil
}

func (t *tx) FindPendingOutboxItem(_ context.Context, tenantID string, entityType synctypes.EntityType, entityID string) (synctypes.OutboxItem, bool, error) {
	s := t.store()
	var best synctypes.OutboxItem
	found := false
	for _, item := range s.outbox {
		if item.TenantID != tenantID || item.EntityType != entityType || item.EntityID != entityID {
			continue
		}
		if item.Status != synctypes.OutboxPending && item.Status != synctypes.OutboxSyncing {
			continue
		}
		if !found || item.CreatedAt.After(best.CreatedAt) {
			best = item
			found = true
		}
	}
	return best, found, nil
}

func (t *tx) DeleteOutboxItem(_ context.Context, id string) error {
	delete(t.store().outbox, id)
	return nil
}

func (t *tx) UpdateOutboxItem(_ context.Context, item synctypes.OutboxItem) error {
	s := t.store()
	if _, ok := s.outbox[item.ID]; !ok {
		return localstore.ErrNotFound
	}
	s.outbox[item.ID] = item
	return nil
}

func (t *tx) ListOutboxItems(_ context.Context, tenantID string, statuses ...synctypes.OutboxStatus) ([]synctypes.OutboxItem, error) {
	s := t.store()
	allowed := make(map[synctypes.OutboxStatus]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}
	out := make([]synctypes.OutboxItem, 0, len(s.outbox))
	for _, item := range s.outbox {
		if tenantID != "" && item.TenantID != tenantID {
			continue
		}
		if len(allowed) > 0 && !allowed[item.Status] {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) DeleteOutboxItemsOlderThan(_ context.Context, status synctypes.OutboxStatus, cutoff time.Time) (int, error) {
	s := t.store()
	removed := 0
	for id, item := range s.outbox {
		if item.Status != status {
			continue
		}
		if item.SyncedAt == nil || !item.SyncedAt.Before(cutoff) {
			continue
		}
		delete(s.outbox, id)
		removed++
	}
	return removed, nil
}

func metaKey(tenantID string, entityType synctypes.EntityType) string {
	return tenantID + "/" + string(entityType)
}

func (t *tx) GetSyncMetadata(_ context.Context, tenantID string, entityType synctypes.EntityType) (synctypes.SyncMetadata, bool, error) {
	meta, ok := t.store().meta[metaKey(tenantID, entityType)]
	return meta, ok, nil
}

func (t *tx) PutSyncMetadata(_ context.Context, meta synctypes.SyncMetadata) error {
	t.store().meta[metaKey(meta.TenantID, meta.EntityType)] = meta
	return nil
}

func (t *tx) InsertConflict(_ context.Context, entry synctypes.ConflictEntry) error {
	s := t.store()
	s.conflict = append(s.conflict, entry)
	return nil
}

func (t *tx) ListRecentConflicts(_ context.Context, tenantID string, limit int) ([]synctypes.ConflictEntry, error) {
	s := t.store()
	matched := make([]synctypes.ConflictEntry, 0, len(s.conflict))
	for _, c := range s.conflict {
		if c.TenantID == tenantID {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (t *tx) CountPendingReviewConflicts(_ context.Context, tenantID string) (int, error) {
	s := t.store()
	n := 0
	for _, c := range s.conflict {
		if c.TenantID == tenantID && c.Resolution == synctypes.ResolutionPendingReview {
			n++
		}
	}
	return n, nil
}

func (t *tx) GetLock(_ context.Context, entityType synctypes.EntityType, entityID string) (synctypes.RecordLock, bool, error) {
	lock, ok := t.store().locks[lockKey(entityType, entityID)]
	return lock, ok, nil
}

func (t *tx) PutLock(_ context.Context, lock synctypes.RecordLock) error {
	t.store().locks[lockKey(lock.EntityType, lock.EntityID)] = lock
	return nil
}

func (t *tx) DeleteLock(_ context.Context, entityType synctypes.EntityType, entityID string) error {
	delete(t.store().locks, lockKey(entityType, entityID))
	return nil
}

func (t *tx) ListLocks(_ context.Context, tenantID string) ([]synctypes.RecordLock, error) {
	s := t.store()
	out := make([]synctypes.RecordLock, 0, len(s.locks))
	for _, l := range s.locks {
		if tenantID == "" || l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out, nil
}

func lockKey(entityType synctypes.EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}
