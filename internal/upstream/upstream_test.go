package upstream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbookspro/synccore/internal/conflictlog"
	"github.com/pbookspro/synccore/internal/localstore/memstore"
	"github.com/pbookspro/synccore/internal/outbox"
	"github.com/pbookspro/synccore/internal/recordlock"
	"github.com/pbookspro/synccore/internal/remoteapi"
	"github.com/pbookspro/synccore/internal/synctypes"
	"github.com/pbookspro/synccore/internal/syncmeta"
	"github.com/pbookspro/synccore/internal/upstream"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return "cf" + string(rune('0'+s.n))
}

func harness(now time.Time) (*upstream.Driver, *outbox.Outbox, *remoteapi.FakeClient, *conflictlog.Log, *recordlock.Manager) {
	store := memstore.New()
	clock := fixedClock{t: now}
	ob := outbox.New(store, clock, &seqIDs{})
	meta := syncmeta.New(store)
	locks := recordlock.New(store, nil, clock, 5*time.Minute)
	client := remoteapi.NewFakeClient()
	conflict := conflictlog.New(store)
	d := upstream.New(ob, meta, locks, client, conflict, clock, &seqIDs{})
	return d, ob, client, conflict, locks
}

func TestRunPushesPendingItemAndMarksSynced(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ob, client, _, _ := harness(now)

	_, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)

	result, err := d.Run(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, client.PushCalls, 1)
	assert.Equal(t, "/contacts", client.PushCalls[0].Endpoint)

	pending, err := ob.GetPending(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunDuplicateResponseMarksAllSyncedForEntity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ob, client, _, _ := harness(now)

	id1, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)
	client.PushResponses[id1] = remoteapi.PushResponse{StatusCode: 409, Message: "Record already exists"}

	result, err := d.Run(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)

	pending, err := ob.GetPending(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunVersionConflictLogsAndMarksSynced(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ob, client, conflict, _ := harness(now)

	id1, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityInvoices, synctypes.ActionUpdate, "i1", []byte(`{"id":"i1","version":2}`))
	require.NoError(t, err)
	sv := int64(5)
	client.PushResponses[id1] = remoteapi.PushResponse{StatusCode: 409, Message: "stale", ServerVersion: &sv}

	result, err := d.Run(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)

	entries, err := conflict.Recent(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, synctypes.ResolutionServerWins, entries[0].Resolution)
	assert.Equal(t, &sv, entries[0].RemoteVersion)
}

func TestRunOtherFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ob, client, _, _ := harness(now)

	id1, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)
	client.PushResponses[id1] = remoteapi.PushResponse{StatusCode: 500}

	result, err := d.Run(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	pending, err := ob.GetPending(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, synctypes.OutboxFailed, pending[0].Status)
}

func TestRunSysPrefixShortCircuitsWithoutPush(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ob, client, _, _ := harness(now)

	_, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityCategories, synctypes.ActionCreate, "sys-default", []byte(`{"id":"sys-default"}`))
	require.NoError(t, err)

	result, err := d.Run(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Empty(t, client.PushCalls)
}

func TestRunDefersItemLockedByAnotherUser(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ob, client, _, locks := harness(now)

	_, err := locks.Acquire(ctx, synctypes.EntityContacts, "c1", "other-user", "Other", "t1")
	require.NoError(t, err)

	_, err = ob.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionUpdate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)

	result, err := d.Run(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pushed)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, client.PushCalls)

	pending, err := ob.GetPending(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, synctypes.OutboxPending, pending[0].Status)
}

func TestRunTenantMismatchMarksFailed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ob, _, _, _ := harness(now)

	_, err := ob.Enqueue(ctx, "t2", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)

	result, err := d.Run(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
}

func TestRunOrdersItemsByDependencyRank(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ob, client, _, _ := harness(now)

	_, err := ob.Enqueue(ctx, "t1", "u1", synctypes.EntityInvoices, synctypes.ActionCreate, "i1", []byte(`{"id":"i1"}`))
	require.NoError(t, err)
	_, err = ob.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"id":"c1"}`))
	require.NoError(t, err)

	result, err := d.Run(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pushed)
	require.Len(t, client.PushCalls, 2)
	assert.Equal(t, "/contacts", client.PushCalls[0].Endpoint)
	assert.Equal(t, "/invoices", client.PushCalls[1].Endpoint)
}
