package conflictlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pbookspro/synccore/internal/conflictlog"
	"github.com/pbookspro/synccore/internal/localstore/memstore"
	"github.com/pbookspro/synccore/internal/synctypes"
)

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	log := conflictlog.New(memstore.New())

	log.Append(ctx, synctypes.ConflictEntry{
		ID: "cf1", TenantID: "t1", EntityType: synctypes.EntityInvoices, EntityID: "inv1",
		Resolution: synctypes.ResolutionPendingReview, CreatedAt: time.Now().UTC(),
	})
	log.Append(ctx, synctypes.ConflictEntry{
		ID: "cf2", TenantID: "t1", EntityType: synctypes.EntityContacts, EntityID: "c1",
		Resolution: synctypes.ResolutionMerged, CreatedAt: time.Now().UTC(),
	})

	recent, err := log.Recent(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestPendingReviewCount(t *testing.T) {
	ctx := context.Background()
	log := conflictlog.New(memstore.New())

	log.Append(ctx, synctypes.ConflictEntry{
		ID: "cf1", TenantID: "t1", EntityType: synctypes.EntityInvoices, EntityID: "inv1",
		Resolution: synctypes.ResolutionPendingReview, CreatedAt: time.Now().UTC(),
	})
	log.Append(ctx, synctypes.ConflictEntry{
		ID: "cf2", TenantID: "t1", EntityType: synctypes.EntityContacts, EntityID: "c1",
		Resolution: synctypes.ResolutionMerged, CreatedAt: time.Now().UTC(),
	})

	n, err := log.PendingReviewCount(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAppendDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	log := conflictlog.New(memstore.New())
	require.NotPanics(t, func() {
		log.Append(ctx, synctypes.ConflictEntry{ID: "cf1", TenantID: "t1", CreatedAt: time.Now().UTC()})
	})
}
