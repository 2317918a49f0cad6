// Package localstore defines the local store adapter contract (C2): the
// narrow set of operations spec.md §6 says sync depends on — transactions,
// a generic upsert, and an FK-enforcement toggle for downstream apply —
// plus the concrete persisted tables of §6 (outbox, sync metadata,
// conflicts, locks) that the other components read and write through it.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pbookspro/synccore/internal/synctypes"
)

// Sentinel errors, matching the teacher's wrapDBError/ErrNotFound idiom
// (internal/storage/sqlite/errors.go) so callers can branch with errors.Is
// regardless of which backend is in use.
var (
	ErrNotFound = errors.New("localstore: not found")
	ErrConflict = errors.New("localstore: conflict")
)

// wrap attaches operation context to a backend error, preserving any
// sentinel already wrapped into it.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("localstore: %s: %w", op, err)
}

// Store is the local store adapter. Every sync component that touches
// persisted state does so through a Store, never through a raw *sql.DB, so
// the same component code runs against sqlitestore in production and
// memstore in tests.
type Store interface {
	// WithTx runs fn inside one transaction; fn's error rolls back, nil
	// commits. Nested calls on the same goroutine are not supported,
	// matching the teacher's withTx helper.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases any underlying resources (DB handle, file lock).
	Close() error
}

// Tx is the set of operations available inside one Store transaction.
type Tx interface {
	EntityTx
	OutboxTx
	SyncMetaTx
	ConflictTx
	LockTx
}

// EntityTx is the generic entity upsert/read contract (spec §6: "a logical
// upsert(entity_type, row_by_id) that is idempotent on id" plus the FK
// toggle downstream apply needs).
type EntityTx interface {
	// UpsertEntity inserts or replaces one entity row, keyed by id. It is
	// idempotent: applying the same fields twice leaves the same row.
	UpsertEntity(ctx context.Context, entityType synctypes.EntityType, id string, fields map[string]any) error
	GetEntity(ctx context.Context, entityType synctypes.EntityType, id string) (map[string]any, bool, error)
	DeleteEntity(ctx context.Context, entityType synctypes.EntityType, id string) error
	ListEntities(ctx context.Context, entityType synctypes.EntityType, tenantID string) ([]map[string]any, error)

	// SetForeignKeysEnabled toggles FK enforcement for the duration of a
	// downstream apply, which writes rows out of strict referential order
	// within a chunk (spec §5/§9).
	SetForeignKeysEnabled(ctx context.Context, enabled bool) error
}

// OutboxTx is the sync_outbox table contract (C4).
type OutboxTx interface {
	InsertOutboxItem(ctx context.Context, item synctypes.OutboxItem) error
	GetOutboxItem(ctx context.Context, id string) (synctypes.OutboxItem, bool, error)
	// FindPendingOutboxItem returns the most recent pending/syncing item for
	// the same entity, used to implement supersede-on-reenqueue.
	FindPendingOutboxItem(ctx context.Context, tenantID string, entityType synctypes.EntityType, entityID string) (synctypes.OutboxItem, bool, error)
	DeleteOutboxItem(ctx context.Context, id string) error
	UpdateOutboxItem(ctx context.Context, item synctypes.OutboxItem) error
	// ListOutboxItems returns items matching any of statuses (all items if
	// statuses is empty), oldest created_at first.
	ListOutboxItems(ctx context.Context, tenantID string, statuses ...synctypes.OutboxStatus) ([]synctypes.OutboxItem, error)
	DeleteOutboxItemsOlderThan(ctx context.Context, status synctypes.OutboxStatus, cutoff time.Time) (int, error)
}

// SyncMetaTx is the sync_metadata table contract (C5).
type SyncMetaTx interface {
	GetSyncMetadata(ctx context.Context, tenantID string, entityType synctypes.EntityType) (synctypes.SyncMetadata, bool, error)
	PutSyncMetadata(ctx context.Context, meta synctypes.SyncMetadata) error
}

// ConflictTx is the append-only sync_conflicts table contract (C7).
type ConflictTx interface {
	InsertConflict(ctx context.Context, entry synctypes.ConflictEntry) error
	ListRecentConflicts(ctx context.Context, tenantID string, limit int) ([]synctypes.ConflictEntry, error)
	CountPendingReviewConflicts(ctx context.Context, tenantID string) (int, error)
}

// LockTx is the record_locks table contract (C8).
type LockTx interface {
	GetLock(ctx context.Context, entityType synctypes.EntityType, entityID string) (synctypes.RecordLock, bool, error)
	PutLock(ctx context.Context, lock synctypes.RecordLock) error
	DeleteLock(ctx context.Context, entityType synctypes.EntityType, entityID string) error
	ListLocks(ctx context.Context, tenantID string) ([]synctypes.RecordLock, error)
}
