// Package synctypes holds the data model shared by every sync component:
// the generic entity envelope, the outbox/metadata/conflict/lock rows, and
// the dependency rank table used to order pushes and pulls.
package synctypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType names one of the ~30 domain entity kinds the core moves
// between the local store and the server (accounts, invoices, transactions,
// ...). The core never interprets the domain fields of an entity, only its
// type name, so this stays an open string type rather than a closed enum.
type EntityType string

// Entity type constants for the types named in the dependency order table
// (spec §3) and in the conflict-tier classification (spec §4.3). Types not
// listed here are still valid EntityType values; they simply fall back to
// DefaultRank and TierFieldMerge.
const (
	EntityAccounts                   EntityType = "accounts"
	EntityContacts                   EntityType = "contacts"
	EntityVendors                    EntityType = "vendors"
	EntityCategories                 EntityType = "categories"
	EntityProjects                   EntityType = "projects"
	EntityBuildings                  EntityType = "buildings"
	EntityProperties                 EntityType = "properties"
	EntityUnits                      EntityType = "units"
	EntityPlanAmenities              EntityType = "plan_amenities"
	EntityDocuments                  EntityType = "documents"
	EntityBudgets                    EntityType = "budgets"
	EntityRentalAgreements           EntityType = "rental_agreements"
	EntityProjectAgreements          EntityType = "project_agreements"
	EntityContracts                  EntityType = "contracts"
	EntityInvoices                   EntityType = "invoices"
	EntityBills                      EntityType = "bills"
	EntityQuotations                 EntityType = "quotations"
	EntityTransactions               EntityType = "transactions"
	EntityRecurringInvoiceTemplates  EntityType = "recurring_invoice_templates"
	EntityPMCycleAllocations         EntityType = "pm_cycle_allocations"
	EntityInstallmentPlans           EntityType = "installment_plans"
	EntitySalesReturns               EntityType = "sales_returns"
	EntityPayrollDepartments         EntityType = "payroll_departments"
	EntityPayrollGrades              EntityType = "payroll_grades"
	EntityPayrollSalaryComponents    EntityType = "payroll_salary_components"
	EntityPayrollEmployees           EntityType = "payroll_employees"
	EntityPayrollRuns                EntityType = "payroll_runs"
	EntityPayslips                   EntityType = "payslips"
)

// dependencyOrder is the authoritative FK dependency order from spec §3.
// Position in this slice is the sort rank; any EntityType not present here
// receives DefaultRank and sorts after every listed type.
var dependencyOrder = []EntityType{
	EntityAccounts, EntityContacts, EntityVendors, EntityCategories, EntityProjects,
	EntityBuildings, EntityProperties, EntityUnits, EntityPlanAmenities, EntityDocuments,
	EntityBudgets, EntityRentalAgreements, EntityProjectAgreements, EntityContracts,
	EntityInvoices, EntityBills, EntityQuotations, EntityTransactions,
	EntityRecurringInvoiceTemplates, EntityPMCycleAllocations, EntityInstallmentPlans,
	EntitySalesReturns, EntityPayrollDepartments, EntityPayrollGrades,
	EntityPayrollSalaryComponents, EntityPayrollEmployees, EntityPayrollRuns, EntityPayslips,
}

// DefaultRank is the sort rank assigned to any entity type not present in
// the dependency order table (spec §3: "takes a default rank placing it
// after all listed types").
const DefaultRank = 1 << 30

var rankOf = buildRankIndex()

func buildRankIndex() map[EntityType]int {
	idx := make(map[EntityType]int, len(dependencyOrder))
	for i, et := range dependencyOrder {
		idx[et] = i
	}
	return idx
}

// DependencyRank returns the stable sort rank for an entity type: its
// position in the dependency order table, or DefaultRank if unlisted.
func DependencyRank(et EntityType) int {
	if r, ok := rankOf[et]; ok {
		return r
	}
	return DefaultRank
}

// Tier is the conflict-resolution strategy an entity type is classified
// into (spec §4.3).
type Tier string

const (
	TierVersionAware Tier = "version-aware" // financial
	TierLWW          Tier = "last-write-wins" // reference
	TierFieldMerge   Tier = "field-merge"   // operational (default)
)

var financialTypes = map[EntityType]bool{
	EntityTransactions:     true,
	EntityInvoices:         true,
	EntityBills:            true,
	EntityInstallmentPlans: true,
	EntityPayrollRuns:      true,
	EntityPayslips:         true,
}

var referenceTypes = map[EntityType]bool{
	EntityBuildings:     true,
	EntityUnits:         true,
	EntityProperties:    true,
	EntityPlanAmenities: true,
}

// Classify returns the conflict-resolution tier for an entity type.
// Anything not in the financial or reference sets is operational
// (field-merge), which is the default per spec §4.3.
func Classify(et EntityType) Tier {
	if financialTypes[et] {
		return TierVersionAware
	}
	if referenceTypes[et] {
		return TierLWW
	}
	return TierFieldMerge
}

// bookkeepingKeys are the fields ignored when computing the field-merge
// diff set Δ (spec §4.3 step 1), including alternate spellings.
var bookkeepingKeys = map[string]bool{
	"id":         true,
	"tenant_id":  true,
	"tenantId":   true,
	"org_id":     true,
	"orgId":      true,
	"user_id":    true,
	"userId":     true,
	"version":    true,
	"created_at": true,
	"createdAt":  true,
	"updated_at": true,
	"updatedAt":  true,
	"deleted_at": true,
	"deletedAt":  true,
}

// IsBookkeepingKey reports whether a field name is part of the bookkeeping
// set ignored by field-merge diffing.
func IsBookkeepingKey(key string) bool {
	return bookkeepingKeys[key]
}

// EntityRecord is the generic envelope for every entity the core moves.
// It carries the fields the core itself reasons about (id, tenant, version,
// updated_at) promoted out of Fields for convenience, while Fields keeps
// the complete decoded JSON object so domain payloads round-trip untouched.
type EntityRecord struct {
	EntityType EntityType
	ID         string
	TenantID   string
	Version    int64
	UpdatedAt  time.Time
	// Fields holds the full decoded JSON object, including id/tenant_id (or
	// org_id)/version/updated_at under whichever key name the source used.
	Fields map[string]any
}

// tenantKeyCandidates are checked in order when resolving an entity's
// tenant identifier; rental_agreements uses org_id instead of tenant_id
// (spec §9 Open Question — both are treated as the same isolation key).
var tenantKeyCandidates = []string{"tenant_id", "org_id"}

// NewEntityRecordFromJSON decodes a raw JSON row into an EntityRecord,
// resolving id/tenant/version/updated_at from the decoded map.
func NewEntityRecordFromJSON(entityType EntityType, raw json.RawMessage) (EntityRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return EntityRecord{}, fmt.Errorf("synctypes: decode %s row: %w", entityType, err)
	}
	return NewEntityRecordFromFields(entityType, fields), nil
}

// NewEntityRecordFromFields builds an EntityRecord from an already-decoded
// field map (used when the caller already has a map[string]any, e.g. from a
// local store row or an in-memory test fixture).
func NewEntityRecordFromFields(entityType EntityType, fields map[string]any) EntityRecord {
	rec := EntityRecord{EntityType: entityType, Fields: fields}

	if id, ok := fields["id"].(string); ok {
		rec.ID = id
	}

	for _, key := range tenantKeyCandidates {
		if v, ok := fields[key].(string); ok && v != "" {
			rec.TenantID = v
			break
		}
	}

	switch v := fields["version"].(type) {
	case float64:
		rec.Version = int64(v)
	case int64:
		rec.Version = v
	case int:
		rec.Version = int64(v)
	}

	if ts, ok := fields["updated_at"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.UpdatedAt = parsed
		} else if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.UpdatedAt = parsed
		}
	} else if t, ok := fields["updated_at"].(time.Time); ok {
		rec.UpdatedAt = t
	}

	return rec
}

// ToJSON re-encodes the full field map, leaving the original tenant/version
// key spellings untouched.
func (r EntityRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// Clone returns a deep-enough copy of the record for mutation during a merge
// (the top-level Fields map is copied; nested values are shared, matching
// the teacher's merge helpers which never mutate nested structures either).
func (r EntityRecord) Clone() EntityRecord {
	cloned := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		cloned[k] = v
	}
	r.Fields = cloned
	return r
}
