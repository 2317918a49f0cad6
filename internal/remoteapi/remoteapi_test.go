package remoteapi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pbookspro/synccore/internal/remoteapi"
)

func TestEndpointForOverrideTable(t *testing.T) {
	assert.Equal(t, "/payroll/employees", remoteapi.EndpointFor("payroll_employees"))
	assert.Equal(t, "/rental-agreements", remoteapi.EndpointFor("rental_agreements"))
}

func TestEndpointForDefaultSnakeToHyphen(t *testing.T) {
	assert.Equal(t, "/transactions", remoteapi.EndpointFor("transactions"))
	assert.Equal(t, "/plan-amenities", remoteapi.EndpointFor("plan_amenities"))
}

func TestClassifyResponse2xxIsSynced(t *testing.T) {
	got := remoteapi.ClassifyResponse(remoteapi.PushResponse{StatusCode: 201}, false)
	assert.Equal(t, remoteapi.OutcomeSynced, got)
}

func TestClassifyResponseDuplicateMessage(t *testing.T) {
	got := remoteapi.ClassifyResponse(remoteapi.PushResponse{StatusCode: 409, Message: "Record already exists"}, false)
	assert.Equal(t, remoteapi.OutcomeSyncedAllForEntity, got)
}

func TestClassifyResponseVersionConflict(t *testing.T) {
	got := remoteapi.ClassifyResponse(remoteapi.PushResponse{StatusCode: 409, Message: "stale version"}, false)
	assert.Equal(t, remoteapi.OutcomeVersionConflict, got)
}

func TestClassifyResponseTransactionImmutable(t *testing.T) {
	got := remoteapi.ClassifyResponse(remoteapi.PushResponse{StatusCode: 500, Code: "TRANSACTION_IMMUTABLE"}, false)
	assert.Equal(t, remoteapi.OutcomeSyncedAllForEntity, got)
}

func TestClassifyResponseOverpaymentOnlyForTransactions(t *testing.T) {
	got := remoteapi.ClassifyResponse(remoteapi.PushResponse{StatusCode: 400, Code: "PAYMENT_OVERPAYMENT"}, true)
	assert.Equal(t, remoteapi.OutcomeSyncedAllForEntity, got)

	notTx := remoteapi.ClassifyResponse(remoteapi.PushResponse{StatusCode: 400, Code: "PAYMENT_OVERPAYMENT"}, false)
	assert.Equal(t, remoteapi.OutcomeFailed, notTx)
}

func TestClassifyResponseOtherNon2xxFails(t *testing.T) {
	got := remoteapi.ClassifyResponse(remoteapi.PushResponse{StatusCode: 500}, false)
	assert.Equal(t, remoteapi.OutcomeFailed, got)
}
