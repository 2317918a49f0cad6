// Package outbox is the sync outbox (C4): a durable FIFO of pending local
// writes, queued through internal/localstore and drained by
// internal/upstream. Grounded on the teacher's append-then-dequeue queue
// idiom in internal/storage/sqlite/dirty.go (a table of pending work keyed
// by entity, flipped to a terminal status instead of deleted outright).
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/pbookspro/synccore/internal/config"
	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/synctypes"
)

// Clock abstracts time.Now for deterministic tests, matching
// internal/syncclock.Clock.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts ID minting, matching internal/syncclock.IDGenerator.
type IDGenerator interface {
	NewID() string
}

// Outbox is a thin wrapper around a localstore.Store exposing the spec's
// C4 operations directly, so callers never touch localstore.Tx themselves.
type Outbox struct {
	store localstore.Store
	clock Clock
	ids   IDGenerator
}

func New(store localstore.Store, clock Clock, ids IDGenerator) *Outbox {
	return &Outbox{store: store, clock: clock, ids: ids}
}

// Enqueue writes a new pending item, superseding any existing pending item
// for the same (entity_type, entity_id) per spec §4.1's dedup policy.
// Failed items are left untouched — they require explicit resolution.
func (o *Outbox) Enqueue(ctx context.Context, tenantID, userID string, entityType synctypes.EntityType, action synctypes.OutboxAction, entityID string, payload []byte) (string, error) {
	id := o.ids.NewID()
	now := o.clock.Now()

	err := o.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		existing, found, err := tx.FindPendingOutboxItem(ctx, tenantID, entityType, entityID)
		if err != nil {
			return err
		}
		if found && existing.Status == synctypes.OutboxPending {
			if err := tx.DeleteOutboxItem(ctx, existing.ID); err != nil {
				return err
			}
		}

		return tx.InsertOutboxItem(ctx, synctypes.OutboxItem{
			ID:         id,
			TenantID:   tenantID,
			UserID:     userID,
			EntityType: entityType,
			Action:     action,
			EntityID:   entityID,
			PayloadJSON: payload,
			CreatedAt:  now,
			UpdatedAt:  now,
			Status:     synctypes.OutboxPending,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetPending returns every pending or failed item for tenant, oldest first.
func (o *Outbox) GetPending(ctx context.Context, tenantID string) ([]synctypes.OutboxItem, error) {
	var items []synctypes.OutboxItem
	err := o.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		var err error
		items, err = tx.ListOutboxItems(ctx, tenantID, synctypes.OutboxPending, synctypes.OutboxFailed)
		return err
	})
	return items, err
}

// MarkSyncing flips an item to in-flight, so a crash mid-push doesn't
// silently re-enqueue it as pending indefinitely.
func (o *Outbox) MarkSyncing(ctx context.Context, itemID string) error {
	return o.update(ctx, itemID, func(item *synctypes.OutboxItem) {
		item.Status = synctypes.OutboxSyncing
	})
}

// MarkSynced closes an item out successfully.
func (o *Outbox) MarkSynced(ctx context.Context, itemID string) error {
	now := o.clock.Now()
	return o.update(ctx, itemID, func(item *synctypes.OutboxItem) {
		item.Status = synctypes.OutboxSynced
		item.SyncedAt = &now
	})
}

// MarkFailed records a push failure, incrementing retry_count and storing
// the error truncated to config.ErrorMessageMaxLen chars (spec §4.1).
func (o *Outbox) MarkFailed(ctx context.Context, itemID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > config.ErrorMessageMaxLen {
		msg = msg[:config.ErrorMessageMaxLen]
	}
	return o.update(ctx, itemID, func(item *synctypes.OutboxItem) {
		item.Status = synctypes.OutboxFailed
		item.RetryCount++
		item.ErrorMessage = msg
	})
}

// MarkAllSyncedForEntity bulk-closes every outstanding outbox item for one
// entity, used when a push response tells us the server already reflects
// the latest state (spec §4.1).
func (o *Outbox) MarkAllSyncedForEntity(ctx context.Context, tenantID string, entityType synctypes.EntityType, entityID string) error {
	now := o.clock.Now()
	return o.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		items, err := tx.ListOutboxItems(ctx, tenantID, synctypes.OutboxPending, synctypes.OutboxSyncing, synctypes.OutboxFailed)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.EntityType != entityType || item.EntityID != entityID {
				continue
			}
			item.Status = synctypes.OutboxSynced
			item.SyncedAt = &now
			item.UpdatedAt = now
			if err := tx.UpdateOutboxItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingCount returns the number of pending+failed items for tenant.
func (o *Outbox) PendingCount(ctx context.Context, tenantID string) (int, error) {
	items, err := o.GetPending(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// ClearSyncedOlderThan removes synced items whose synced_at predates
// days ago, per config.OutboxRetentionDays.
func (o *Outbox) ClearSyncedOlderThan(ctx context.Context, tenantID string, days int) (int, error) {
	cutoff := o.clock.Now().AddDate(0, 0, -days)
	var n int
	err := o.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		var err error
		n, err = tx.DeleteOutboxItemsOlderThan(ctx, synctypes.OutboxSynced, cutoff)
		return err
	})
	return n, err
}

func (o *Outbox) update(ctx context.Context, itemID string, mutate func(*synctypes.OutboxItem)) error {
	now := o.clock.Now()
	return o.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		item, found, err := tx.GetOutboxItem(ctx, itemID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("outbox: item %s: %w", itemID, localstore.ErrNotFound)
		}
		mutate(&item)
		item.UpdatedAt = now
		return tx.UpdateOutboxItem(ctx, item)
	})
}
