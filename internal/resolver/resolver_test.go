package resolver_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pbookspro/synccore/internal/resolver"
	"github.com/pbookspro/synccore/internal/synctypes"
)

func TestResolveLWWTieGoesToRemote(t *testing.T) {
	now := time.Now().UTC()
	ctx := resolver.Context{
		EntityType: synctypes.EntityBuildings,
		Local:      synctypes.EntityRecord{UpdatedAt: now},
		Remote:     synctypes.EntityRecord{UpdatedAt: now},
	}
	d := resolver.Resolve(ctx)
	assert.Equal(t, resolver.UseRemote, d.Outcome)
	assert.Equal(t, resolver.ResolutionRemoteWins, d.Resolution)
}

func TestResolveLWWLocalNewerWins(t *testing.T) {
	now := time.Now().UTC()
	ctx := resolver.Context{
		EntityType: synctypes.EntityUnits,
		Local:      synctypes.EntityRecord{UpdatedAt: now.Add(time.Minute)},
		Remote:     synctypes.EntityRecord{UpdatedAt: now},
	}
	d := resolver.Resolve(ctx)
	assert.Equal(t, resolver.UseLocal, d.Outcome)
	assert.Equal(t, resolver.ResolutionLocalWins, d.Resolution)
}

func TestResolveFieldMergeNoDeltaUsesRemote(t *testing.T) {
	now := time.Now().UTC()
	ctx := resolver.Context{
		EntityType: synctypes.EntityContacts,
		Local:      synctypes.EntityRecord{UpdatedAt: now, Fields: map[string]any{"name": "Acme", "version": 3}},
		Remote:     synctypes.EntityRecord{UpdatedAt: now.Add(time.Hour), Fields: map[string]any{"name": "Acme", "version": 4}},
	}
	d := resolver.Resolve(ctx)
	assert.Equal(t, resolver.UseRemote, d.Outcome)
	assert.Equal(t, resolver.ResolutionRemoteWins, d.Resolution)
}

func TestResolveFieldMergeLocalNewerProducesMerge(t *testing.T) {
	now := time.Now().UTC()
	ctx := resolver.Context{
		EntityType: synctypes.EntityVendors,
		Local: synctypes.EntityRecord{
			UpdatedAt: now.Add(time.Minute),
			Fields:    map[string]any{"name": "Local Name", "email": "a@b.com"},
		},
		Remote: synctypes.EntityRecord{
			UpdatedAt: now,
			Fields:    map[string]any{"name": "Remote Name", "email": "a@b.com"},
		},
	}
	d := resolver.Resolve(ctx)
	assert.Equal(t, resolver.UseMerged, d.Outcome)
	assert.Equal(t, resolver.ResolutionMerged, d.Resolution)
	assert.Equal(t, "Local Name", d.MergedFields["name"])
	assert.False(t, d.NeedsReview)
}

func TestResolveFieldMergeTiedTimestampsNeedsReview(t *testing.T) {
	now := time.Now().UTC()
	ctx := resolver.Context{
		EntityType: synctypes.EntityCategories,
		Local:      synctypes.EntityRecord{UpdatedAt: now, Fields: map[string]any{"name": "Local"}},
		Remote:     synctypes.EntityRecord{UpdatedAt: now, Fields: map[string]any{"name": "Remote"}},
	}
	d := resolver.Resolve(ctx)
	assert.Equal(t, resolver.UseRemote, d.Outcome)
	assert.Equal(t, resolver.ResolutionPendingReview, d.Resolution)
	assert.True(t, d.NeedsReview)
}

func TestResolveVersionAwareLargeGapFlagsReview(t *testing.T) {
	ctx := resolver.Context{
		EntityType: synctypes.EntityInvoices,
		Local:      synctypes.EntityRecord{Version: 5, Fields: map[string]any{"total": 100}},
		Remote:     synctypes.EntityRecord{Version: 8, Fields: map[string]any{"total": 150}},
	}
	d := resolver.Resolve(ctx)
	assert.Equal(t, resolver.UseLocal, d.Outcome)
	assert.Equal(t, resolver.ResolutionPendingReview, d.Resolution)
	assert.True(t, d.NeedsReview)
}

func TestResolveVersionAwareSmallGapDelegatesToFieldMerge(t *testing.T) {
	now := time.Now().UTC()
	ctx := resolver.Context{
		EntityType: synctypes.EntityInvoices,
		Local:      synctypes.EntityRecord{Version: 5, UpdatedAt: now, Fields: map[string]any{"total": 100}},
		Remote:     synctypes.EntityRecord{Version: 6, UpdatedAt: now.Add(time.Minute), Fields: map[string]any{"total": 150}},
	}
	d := resolver.Resolve(ctx)
	assert.Equal(t, resolver.UseRemote, d.Outcome)
	assert.Equal(t, resolver.ResolutionRemoteWins, d.Resolution)
	assert.False(t, d.NeedsReview)
}
