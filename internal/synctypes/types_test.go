package synctypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyRankOrder(t *testing.T) {
	assert.Less(t, DependencyRank(EntityAccounts), DependencyRank(EntityContacts))
	assert.Less(t, DependencyRank(EntityInvoices), DependencyRank(EntityTransactions))
	assert.Less(t, DependencyRank(EntityPayrollEmployees), DependencyRank(EntityPayrollRuns))
}

func TestDependencyRankUnknownTypeSortsLast(t *testing.T) {
	assert.Equal(t, DefaultRank, DependencyRank(EntityType("widgets")))
	assert.Greater(t, DependencyRank(EntityType("widgets")), DependencyRank(EntityPayslips))
}

func TestClassifyTiers(t *testing.T) {
	assert.Equal(t, TierVersionAware, Classify(EntityTransactions))
	assert.Equal(t, TierVersionAware, Classify(EntityInvoices))
	assert.Equal(t, TierLWW, Classify(EntityBuildings))
	assert.Equal(t, TierFieldMerge, Classify(EntityContacts))
	assert.Equal(t, TierFieldMerge, Classify(EntityType("something_new")))
}

func TestNewEntityRecordFromFieldsResolvesTenantAndOrgID(t *testing.T) {
	rec := NewEntityRecordFromFields(EntityContacts, map[string]any{
		"id":         "c1",
		"tenant_id":  "t1",
		"version":    float64(3),
		"updated_at": "2026-01-02T03:04:05Z",
		"name":       "Acme",
	})
	require.Equal(t, "c1", rec.ID)
	require.Equal(t, "t1", rec.TenantID)
	require.Equal(t, int64(3), rec.Version)
	require.Equal(t, "Acme", rec.Fields["name"])
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), rec.UpdatedAt)

	rental := NewEntityRecordFromFields(EntityRentalAgreements, map[string]any{
		"id":      "r1",
		"org_id":  "t1",
		"version": float64(1),
	})
	require.Equal(t, "t1", rental.TenantID)
}

func TestEntityRecordCloneIsIndependent(t *testing.T) {
	rec := NewEntityRecordFromFields(EntityAccounts, map[string]any{"id": "a1", "name": "orig"})
	cloned := rec.Clone()
	cloned.Fields["name"] = "changed"
	assert.Equal(t, "orig", rec.Fields["name"])
	assert.Equal(t, "changed", cloned.Fields["name"])
}

func TestSortByDependencyRankStable(t *testing.T) {
	items := []EntityRecord{
		{EntityType: EntityTransactions, ID: "tx1"},
		{EntityType: EntityAccounts, ID: "a1"},
		{EntityType: EntityTransactions, ID: "tx2"},
		{EntityType: EntityContacts, ID: "c1"},
		{EntityType: EntityAccounts, ID: "a2"},
	}
	SortByDependencyRank(items)

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"a1", "a2", "c1", "tx1", "tx2"}, ids)
}

func TestIsBookkeepingKey(t *testing.T) {
	assert.True(t, IsBookkeepingKey("tenant_id"))
	assert.True(t, IsBookkeepingKey("org_id"))
	assert.False(t, IsBookkeepingKey("amount"))
}
