// Package realtime is the realtime event handler (C11): it consumes
// peer-originated create/update/delete broadcasts, normalizes them, and
// applies them locally, skipping self-originated and locally-locked
// entities. Grounded on internal/eventbus/bus.go's Handler/Event/Dispatch
// shape, generalized from Claude Code hook events to entity-change events,
// and on Bus.SetJetStream's fire-and-forget NATS mirroring idiom.
package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pbookspro/synccore/internal/debug"
	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/recordlock"
	"github.com/pbookspro/synccore/internal/synctypes"
)

// Op is the mutation kind carried on the wire (spec §4.8: "<entity>:<op>").
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// RawEvent is one inbound broadcast message before normalization.
type RawEvent struct {
	Subject string          // "<entity>:<op>", e.g. "contact:updated"
	UserID  string          // originating user, for self-echo suppression
	Payload json.RawMessage
}

// entityAliases maps a wire entity name to the key its payload object is
// nested under when it isn't `entity` or `entity+"s"` (spec §4.8 step 3).
var entityAliases = map[string]string{
	"rental_agreement":  "agreement",
	"project_agreement": "agreement",
}

// idAliases are additional keys checked for the entity id on delete events,
// beyond the generic camelCase/snake_case `<entity>Id`/`<entity>_id` forms
// (spec §4.8 step 4).
var idAliases = map[string][]string{
	"rental_agreement":  {"agreementId", "agreement_id"},
	"project_agreement": {"agreementId", "agreement_id"},
}

// legacyKeyMap renames legacy field aliases per entity type (spec §4.8
// step 6: "tenantId → contactId legacy mapping on rental agreements").
// It holds no general snake_case→camelCase mapping; other keys are left
// as the server sent them.
var legacyKeyMap = map[synctypes.EntityType]map[string]string{
	synctypes.EntityRentalAgreements: {"tenantId": "contactId", "tenant_id": "contact_id"},
}

// subjectEntityType maps the wire subject's entity token to its
// synctypes.EntityType, pluralizing where the core's type names differ from
// the singular wire vocabulary.
var subjectEntityType = map[string]synctypes.EntityType{
	"contact":              synctypes.EntityContacts,
	"vendor":                synctypes.EntityVendors,
	"category":              synctypes.EntityCategories,
	"account":               synctypes.EntityAccounts,
	"project":               synctypes.EntityProjects,
	"building":              synctypes.EntityBuildings,
	"property":              synctypes.EntityProperties,
	"unit":                  synctypes.EntityUnits,
	"plan_amenity":          synctypes.EntityPlanAmenities,
	"document":              synctypes.EntityDocuments,
	"budget":                synctypes.EntityBudgets,
	"rental_agreement":      synctypes.EntityRentalAgreements,
	"project_agreement":     synctypes.EntityProjectAgreements,
	"contract":              synctypes.EntityContracts,
	"invoice":               synctypes.EntityInvoices,
	"bill":                  synctypes.EntityBills,
	"quotation":             synctypes.EntityQuotations,
	"transaction":           synctypes.EntityTransactions,
	"recurring_invoice_template": synctypes.EntityRecurringInvoiceTemplates,
	"pm_cycle_allocation":   synctypes.EntityPMCycleAllocations,
	"installment_plan":      synctypes.EntityInstallmentPlans,
	"sales_return":          synctypes.EntitySalesReturns,
	"payroll_department":    synctypes.EntityPayrollDepartments,
	"payroll_grade":         synctypes.EntityPayrollGrades,
	"payroll_salary_component": synctypes.EntityPayrollSalaryComponents,
	"payroll_employee":      synctypes.EntityPayrollEmployees,
	"payroll_run":           synctypes.EntityPayrollRuns,
	"payslip":               synctypes.EntityPayslips,
}

// NormalizedEvent is a RawEvent after steps 1-6 of spec §4.8, ready to
// dispatch to the view model and mirror into the local store.
type NormalizedEvent struct {
	EntityType synctypes.EntityType
	Action     synctypes.OutboxAction
	EntityID   string
	Fields     map[string]any // nil for deletes
}

// ViewModel receives every event that survives suppression, already marked
// as remote-originated so it must not re-enter the outbox (spec §4.8 step
// 7).
type ViewModel interface {
	ApplyRemote(ctx context.Context, event NormalizedEvent)
}

type Handler struct {
	store    localstore.Store
	locks    *recordlock.Manager
	viewModel ViewModel
	userID   string
}

func New(store localstore.Store, locks *recordlock.Manager, viewModel ViewModel, userID string) *Handler {
	return &Handler{store: store, locks: locks, viewModel: viewModel, userID: userID}
}

// Handle runs spec §4.8's full per-event algorithm. It never returns an
// error for a malformed or suppressed event — those are simply dropped,
// matching the teacher's "handler errors are logged but do not stop the
// chain" resilience posture (internal/eventbus.Bus.Dispatch).
func (h *Handler) Handle(ctx context.Context, raw RawEvent) {
	entityToken, op, ok := splitSubject(raw.Subject)
	if !ok {
		debug.Logf("realtime: dropping unrecognized subject %q\n", raw.Subject)
		return
	}

	entityType, ok := subjectEntityType[entityToken]
	if !ok {
		debug.Logf("realtime: dropping unknown entity %q\n", entityToken)
		return
	}

	var envelope map[string]any
	if err := json.Unmarshal(raw.Payload, &envelope); err != nil {
		debug.Logf("realtime: dropping undecodable payload for %q: %v\n", raw.Subject, err)
		return
	}

	if senderID := eventUserID(raw, envelope); senderID != "" && senderID == h.userID {
		return // self-echo
	}

	payload := extractPayloadObject(entityToken, envelope)

	entityID, ok := extractEntityID(entityToken, op, payload)
	if !ok {
		debug.Logf("realtime: dropping %s event with no resolvable id\n", raw.Subject)
		return
	}

	if h.locks.IsOwner(entityType, entityID, h.userID) {
		return // we hold the lock; this broadcast is our own echo
	}

	action := actionFor(op)
	fields := normalizeFields(entityType, payload)

	event := NormalizedEvent{EntityType: entityType, Action: action, EntityID: entityID, Fields: fields}

	if h.viewModel != nil {
		h.viewModel.ApplyRemote(ctx, event)
	}

	if err := h.mirror(ctx, event); err != nil {
		debug.Logf("realtime: mirror to local store failed for %s/%s: %v\n", entityType, entityID, err)
	}
}

func (h *Handler) mirror(ctx context.Context, event NormalizedEvent) error {
	return h.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		if event.Action == synctypes.ActionDelete {
			return tx.DeleteEntity(ctx, event.EntityType, event.EntityID)
		}
		return tx.UpsertEntity(ctx, event.EntityType, event.EntityID, event.Fields)
	})
}

// eventUserID resolves the originating user id for self-echo suppression
// (spec §4.8 step 2), preferring the transport-level field and falling
// back to the envelope's own user_id key.
func eventUserID(raw RawEvent, envelope map[string]any) string {
	if raw.UserID != "" {
		return raw.UserID
	}
	if id, ok := envelope["user_id"].(string); ok {
		return id
	}
	return ""
}

func actionFor(op Op) synctypes.OutboxAction {
	switch op {
	case OpCreated:
		return synctypes.ActionCreate
	case OpDeleted:
		return synctypes.ActionDelete
	default:
		return synctypes.ActionUpdate
	}
}

func splitSubject(subject string) (entity string, op Op, ok bool) {
	parts := strings.SplitN(subject, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	switch Op(parts[1]) {
	case OpCreated, OpUpdated, OpDeleted:
		return parts[0], Op(parts[1]), true
	default:
		return "", "", false
	}
}

// extractPayloadObject implements spec §4.8 step 3.
func extractPayloadObject(entityToken string, envelope map[string]any) map[string]any {
	if nested, ok := envelope[entityToken].(map[string]any); ok {
		return nested
	}
	if nested, ok := envelope[entityToken+"s"].(map[string]any); ok {
		return nested
	}
	if alias, ok := entityAliases[entityToken]; ok {
		if nested, ok := envelope[alias].(map[string]any); ok {
			return nested
		}
	}
	return envelope
}

// extractEntityID implements spec §4.8 step 4.
func extractEntityID(entityToken string, op Op, payload map[string]any) (string, bool) {
	if id, ok := payload["id"].(string); ok && id != "" {
		return id, true
	}

	if op != OpDeleted {
		return "", false
	}

	camel := entityToken
	if idx := strings.IndexByte(camel, '_'); idx >= 0 {
		camel = toCamel(entityToken)
	}

	candidates := []string{camel + "Id", entityToken + "_id"}
	candidates = append(candidates, idAliases[entityToken]...)

	for _, key := range candidates {
		if id, ok := payload[key].(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

func toCamel(snake string) string {
	parts := strings.Split(snake, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

// normalizeFields implements spec §4.8 step 6: rename legacy/aliased keys,
// leaving everything else as the server sent it (local store rows are kept
// in the server's snake_case form; camelCasing is a view-model concern the
// ViewModel callback owns).
func normalizeFields(entityType synctypes.EntityType, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	renames := legacyKeyMap[entityType]
	for from, to := range renames {
		if v, ok := out[from]; ok {
			out[to] = v
			delete(out, from)
		}
	}

	return out
}
