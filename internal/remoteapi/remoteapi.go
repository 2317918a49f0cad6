// Package remoteapi is the sync server client consumed by C9 and C10.
// It is an interface with one production implementation (HTTPClient) and
// one test double (FakeClient), matching spec §9's design note ("the
// remote API client is an interface with one implementation; swap for
// tests"). Retry/backoff is grounded on the teacher's
// internal/storage/dolt.withRetry (exponential backoff via
// cenkalti/backoff/v4, non-retryable errors wrapped in backoff.Permanent).
package remoteapi

import (
	"context"
	"encoding/json"
	"regexp"
	"time"
)

// Method is the HTTP verb used for an entity push.
type Method string

const (
	MethodPost   Method = "POST"
	MethodDelete Method = "DELETE"
)

// PushRequest is one outbox item rendered as a wire request (spec §4.6
// step e/f).
type PushRequest struct {
	Method         Method
	Endpoint       string
	EntityID       string
	IdempotencyKey string
	Version        *int64
	Body           []byte
}

// PushResponse is the server's reply to a push, already decoded enough to
// classify (spec §4.6 step g / §6 error semantics / §7).
type PushResponse struct {
	StatusCode    int
	Code          string // e.g. "PAYMENT_OVERPAYMENT", "TRANSACTION_IMMUTABLE"
	Message       string
	ServerVersion *int64
}

// duplicateMessage matches the server's "already exists" wording (spec
// §4.6 step g, §6 error semantics).
var duplicateMessage = regexp.MustCompile(`(?i)duplicate|already exists`)

// overpaymentMessage matches the transactions-only overpayment wording.
var overpaymentMessage = regexp.MustCompile(`(?i)overpayment|would exceed`)

// Outcome is what the upstream driver should do with the outbox item that
// produced resp.
type Outcome int

const (
	OutcomeSynced Outcome = iota
	OutcomeSyncedAllForEntity
	OutcomeVersionConflict
	OutcomeFailed
)

// ClassifyResponse implements spec §4.6 step g's full decision table.
func ClassifyResponse(resp PushResponse, isTransactionEntity bool) Outcome {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeSynced
	case resp.StatusCode == 409 && duplicateMessage.MatchString(resp.Message):
		return OutcomeSyncedAllForEntity
	case (resp.StatusCode == 409 || resp.StatusCode == 500) && resp.Code == "TRANSACTION_IMMUTABLE":
		return OutcomeSyncedAllForEntity
	case resp.StatusCode == 400 && isTransactionEntity && (resp.Code == "PAYMENT_OVERPAYMENT" || overpaymentMessage.MatchString(resp.Message)):
		return OutcomeSyncedAllForEntity
	case resp.StatusCode == 409:
		return OutcomeVersionConflict
	default:
		return OutcomeFailed
	}
}

// PulledEntities is the decoded shape of the delta-pull response (spec §6:
// "{entities: {<entity_type>: [row, …]}}").
type PulledEntities struct {
	Entities map[string][]json.RawMessage `json:"entities"`
}

// LockRequest is the body for POST /locks (spec §6).
type LockRequest struct {
	Entity     string    `json:"entity"`
	EntityID   string    `json:"entity_id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	TenantID   string    `json:"tenant_id"`
	LockedAt   time.Time `json:"locked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Client is the sync server surface C9/C10 depend on.
type Client interface {
	Push(ctx context.Context, req PushRequest) (PushResponse, error)
	PullSince(ctx context.Context, since time.Time) (PulledEntities, error)
	PostLock(ctx context.Context, req LockRequest) error
	DeleteLock(ctx context.Context, entity, entityID string) error
}

// endpointOverrides is the fixed endpoint table (spec §4.6 step e). The
// payroll_*, payslips and pm_* entries differ from the default
// snake_case→hyphen-case rule; the others match it and are listed explicitly.
var endpointOverrides = map[string]string{
	"payroll_employees":            "/payroll/employees",
	"payroll_runs":                 "/payroll/runs",
	"payroll_payslips":             "/payroll/payslips",
	"payslips":                     "/payroll/payslips",
	"payroll_departments":          "/payroll/departments",
	"payroll_grades":               "/payroll/grades",
	"payroll_salary_components":    "/payroll/salary-components",
	"pm_cycle_allocations":         "/pm/cycle-allocations",
	"rental_agreements":            "/rental-agreements",
	"project_agreements":           "/project-agreements",
	"recurring_invoice_templates":  "/recurring-invoice-templates",
	"sales_returns":                "/sales-returns",
	"installment_plans":            "/installment-plans",
	"plan_amenities":               "/plan-amenities",
}

// EndpointFor resolves an entity_type to its URL path, consulting the
// override table before falling back to the default
// snake_case-to-hyphen-case conversion.
func EndpointFor(entityType string) string {
	if override, ok := endpointOverrides[entityType]; ok {
		return override
	}
	return "/" + snakeToHyphen(entityType)
}

func snakeToHyphen(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			out[i] = '-'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
