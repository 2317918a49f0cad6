// Package syncmeta is the sync metadata store (C5): per-tenant watermarks
// tracking how far upstream push and downstream pull have progressed.
// Grounded on the teacher's internal/storage/sqlite/metadata_index.go
// key/value-row-over-a-table pattern.
package syncmeta

import (
	"context"
	"time"

	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/synctypes"
)

// epoch is the default last_pull_at returned when a tenant has never
// pulled, per spec §4.2.
var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

type Store struct {
	store localstore.Store
}

func New(store localstore.Store) *Store {
	return &Store{store: store}
}

// GetLastPullAt returns the tenant's downstream watermark, defaulting to
// the epoch when unset.
func (s *Store) GetLastPullAt(ctx context.Context, tenantID string) (time.Time, error) {
	meta, found, err := s.get(ctx, tenantID, synctypes.GlobalEntityType)
	if err != nil {
		return time.Time{}, err
	}
	if !found || meta.LastPullAt.IsZero() {
		return epoch, nil
	}
	return meta.LastPullAt, nil
}

// SetLastPullAt advances the tenant's downstream watermark.
func (s *Store) SetLastPullAt(ctx context.Context, tenantID string, ts time.Time) error {
	return s.put(ctx, tenantID, synctypes.GlobalEntityType, func(meta *synctypes.SyncMetadata) {
		if !ts.Before(meta.LastPullAt) {
			meta.LastPullAt = ts
		}
	})
}

// GetLastSyncedAt returns the tenant's upstream watermark for entityType
// (or the global watermark if entityType is empty).
func (s *Store) GetLastSyncedAt(ctx context.Context, tenantID string, entityType synctypes.EntityType) (time.Time, error) {
	if entityType == "" {
		entityType = synctypes.GlobalEntityType
	}
	meta, found, err := s.get(ctx, tenantID, entityType)
	if err != nil {
		return time.Time{}, err
	}
	if !found || meta.LastSyncedAt.IsZero() {
		return epoch, nil
	}
	return meta.LastSyncedAt, nil
}

// SetLastSyncedAt advances the tenant's upstream watermark for entityType.
func (s *Store) SetLastSyncedAt(ctx context.Context, tenantID string, entityType synctypes.EntityType, ts time.Time) error {
	if entityType == "" {
		entityType = synctypes.GlobalEntityType
	}
	return s.put(ctx, tenantID, entityType, func(meta *synctypes.SyncMetadata) {
		meta.LastSyncedAt = ts
	})
}

func (s *Store) get(ctx context.Context, tenantID string, entityType synctypes.EntityType) (synctypes.SyncMetadata, bool, error) {
	var meta synctypes.SyncMetadata
	var found bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		var err error
		meta, found, err = tx.GetSyncMetadata(ctx, tenantID, entityType)
		return err
	})
	return meta, found, err
}

func (s *Store) put(ctx context.Context, tenantID string, entityType synctypes.EntityType, mutate func(*synctypes.SyncMetadata)) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		meta, found, err := tx.GetSyncMetadata(ctx, tenantID, entityType)
		if err != nil {
			return err
		}
		if !found {
			meta = synctypes.SyncMetadata{TenantID: tenantID, EntityType: entityType}
		}
		mutate(&meta)
		meta.UpdatedAt = time.Now().UTC()
		return tx.PutSyncMetadata(ctx, meta)
	})
}
