package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pbookspro/synccore/internal/localstore/memstore"
	"github.com/pbookspro/synccore/internal/outbox"
	"github.com/pbookspro/synccore/internal/synctypes"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return "ob" + string(rune('0'+s.n))
}

func newOutbox() (*outbox.Outbox, *seqIDs) {
	ids := &seqIDs{}
	o := outbox.New(memstore.New(), fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, ids)
	return o, ids
}

func TestEnqueueSupersedesExistingPendingItem(t *testing.T) {
	ctx := context.Background()
	o, _ := newOutbox()

	id1, err := o.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", []byte(`{"name":"A"}`))
	require.NoError(t, err)

	id2, err := o.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionUpdate, "c1", []byte(`{"name":"B"}`))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	pending, err := o.GetPending(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1, "older pending item must be superseded")
	require.Equal(t, id2, pending[0].ID)
}

func TestEnqueueDoesNotSupersedeFailedItems(t *testing.T) {
	ctx := context.Background()
	o, _ := newOutbox()

	id1, err := o.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionCreate, "c1", nil)
	require.NoError(t, err)
	require.NoError(t, o.MarkFailed(ctx, id1, errors.New("boom")))

	id2, err := o.Enqueue(ctx, "t1", "u1", synctypes.EntityContacts, synctypes.ActionUpdate, "c1", nil)
	require.NoError(t, err)

	pending, err := o.GetPending(ctx, "t1")
	require.NoError(t, err)
	ids := []string{pending[0].ID, pending[1].ID}
	require.ElementsMatch(t, []string{id1, id2}, ids)
}

func TestMarkFailedTruncatesErrorAndIncrementsRetryCount(t *testing.T) {
	ctx := context.Background()
	o, _ := newOutbox()

	id, err := o.Enqueue(ctx, "t1", "u1", synctypes.EntityAccounts, synctypes.ActionCreate, "a1", nil)
	require.NoError(t, err)

	longMsg := make([]byte, 900)
	for i := range longMsg {
		longMsg[i] = 'x'
	}
	require.NoError(t, o.MarkFailed(ctx, id, errors.New(string(longMsg))))

	items, err := o.GetPending(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, synctypes.OutboxFailed, items[0].Status)
	require.Equal(t, 1, items[0].RetryCount)
	require.LessOrEqual(t, len(items[0].ErrorMessage), 500)
}

func TestMarkAllSyncedForEntityClosesEverything(t *testing.T) {
	ctx := context.Background()
	o, _ := newOutbox()

	id1, err := o.Enqueue(ctx, "t1", "u1", synctypes.EntityAccounts, synctypes.ActionCreate, "a1", nil)
	require.NoError(t, err)
	require.NoError(t, o.MarkFailed(ctx, id1, errors.New("x")))

	id2, err := o.Enqueue(ctx, "t1", "u1", synctypes.EntityAccounts, synctypes.ActionUpdate, "a1", nil)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	require.NoError(t, o.MarkAllSyncedForEntity(ctx, "t1", synctypes.EntityAccounts, "a1"))

	pending, err := o.GetPending(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPendingCount(t *testing.T) {
	ctx := context.Background()
	o, _ := newOutbox()

	n, err := o.PendingCount(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = o.Enqueue(ctx, "t1", "u1", synctypes.EntityAccounts, synctypes.ActionCreate, "a1", nil)
	require.NoError(t, err)

	n, err = o.PendingCount(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
