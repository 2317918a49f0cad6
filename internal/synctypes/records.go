package synctypes

import (
	"sort"
	"time"
)

// OutboxStatus is the lifecycle state of an OutboxItem (spec §3 invariant I5).
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSyncing OutboxStatus = "syncing"
	OutboxSynced  OutboxStatus = "synced"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxAction is the mutation kind an OutboxItem records.
type OutboxAction string

const (
	ActionCreate OutboxAction = "create"
	ActionUpdate OutboxAction = "update"
	ActionDelete OutboxAction = "delete"
)

// OutboxItem is a durable record of one pending local write, keyed by ID for
// use as the idempotency key sent to the server (invariant I4).
type OutboxItem struct {
	ID          string
	TenantID    string
	UserID      string
	EntityType  EntityType
	Action      OutboxAction
	EntityID    string
	PayloadJSON []byte // nil when Action == ActionDelete
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SyncedAt    *time.Time
	Status      OutboxStatus
	RetryCount  int
	ErrorMessage string
}

// GlobalEntityType is the synthetic entity type used for the tenant-wide
// sync metadata row (last_pull_at/last_synced_at not scoped to one type).
const GlobalEntityType EntityType = "_global"

// SyncMetadata is the per-(tenant, entity_type) watermark row.
type SyncMetadata struct {
	TenantID     string
	EntityType   EntityType
	LastSyncedAt time.Time
	LastPullAt   time.Time
	UpdatedAt    time.Time
}

// ConflictResolution names how a conflict was settled.
type ConflictResolution string

const (
	ResolutionLocalWins     ConflictResolution = "local_wins"
	ResolutionRemoteWins    ConflictResolution = "remote_wins"
	ResolutionMerged        ConflictResolution = "merged"
	ResolutionPendingReview ConflictResolution = "pending_review"
	// ResolutionServerWins marks a C9 409 version conflict, where the sync
	// server's copy is authoritative over the still-queued local edit. This
	// is distinct from ResolutionRemoteWins, which is a C10 resolver verdict
	// comparing two peer copies with no inherent authority over each other.
	ResolutionServerWins ConflictResolution = "server_wins"
)

// ConflictEntry is one append-only row in the conflict log (invariant I8).
type ConflictEntry struct {
	ID            string
	TenantID      string
	EntityType    EntityType
	EntityID      string
	LocalVersion  *int64
	RemoteVersion *int64
	LocalData     []byte
	RemoteData    []byte
	Resolution    ConflictResolution
	ResolvedBy    string // user id, or "auto"
	DeviceID      string
	CreatedAt     time.Time
}

// RecordLock is a cooperative, advisory lock on one entity (invariants I9/I10).
type RecordLock struct {
	EntityType EntityType
	EntityID   string
	UserID     string
	UserName   string
	TenantID   string
	LockedAt   time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock's TTL has elapsed as of now.
func (l RecordLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// DefaultLockTTL is the lock lifetime used when none is specified
// (spec §3 invariant I9).
const DefaultLockTTL = 5 * time.Minute

// dependencyRankable is satisfied by anything that can report its own
// entity type, letting SortByDependencyRank work across outbox items,
// entity records, or any future type without duplicating the sort.
type dependencyRankable interface {
	DependencyEntityType() EntityType
}

func (o OutboxItem) DependencyEntityType() EntityType  { return o.EntityType }
func (r EntityRecord) DependencyEntityType() EntityType { return r.EntityType }

// SortByDependencyRank stably sorts items by the authoritative dependency
// order (spec §3), preserving relative (FIFO) order within a rank
// (invariant I6 and spec §9's ordering guarantee O... for downstream apply).
func SortByDependencyRank[T dependencyRankable](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		return DependencyRank(items[i].DependencyEntityType()) < DependencyRank(items[j].DependencyEntityType())
	})
}
