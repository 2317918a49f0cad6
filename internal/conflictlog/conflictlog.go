// Package conflictlog is the append-only conflict logger (C7): every
// non-trivial resolver decision is recorded here with both data snapshots,
// surfaced to admin/UI via Recent and PendingReviewCount. Grounded on the
// teacher's internal/audit append-only writer shape (visible only through
// its surviving _test.go) and on gonotes' InsertSyncConflict swallow-errors
// idiom — a conflict log must never fail a sync cycle.
package conflictlog

import (
	"context"

	"github.com/pbookspro/synccore/internal/debug"
	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/synctypes"
)

type Log struct {
	store     localstore.Store
	debugPath string
}

func New(store localstore.Store) *Log {
	return &Log{store: store}
}

// WithDebugPath makes Append also emit a debug.LogEvent line to path,
// for operators tailing sync activity without a DB client.
func (l *Log) WithDebugPath(path string) *Log {
	l.debugPath = path
	return l
}

// Append records one conflict resolution. Failures are swallowed — a
// logging problem must never abort the sync cycle that triggered it
// (spec §4.4).
func (l *Log) Append(ctx context.Context, entry synctypes.ConflictEntry) {
	err := l.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		return tx.InsertConflict(ctx, entry)
	})
	if err != nil {
		debug.Logf("conflictlog: append failed for %s/%s: %v\n", entry.EntityType, entry.EntityID, err)
		return
	}
	if l.debugPath != "" {
		debug.LogEvent(l.debugPath, "conflict:"+string(entry.Resolution), entry.TenantID, string(entry.EntityType)+"/"+entry.EntityID, "")
	}
}

// Recent returns the most recent conflicts for tenant, newest first.
func (l *Log) Recent(ctx context.Context, tenantID string, limit int) ([]synctypes.ConflictEntry, error) {
	var entries []synctypes.ConflictEntry
	err := l.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		var err error
		entries, err = tx.ListRecentConflicts(ctx, tenantID, limit)
		return err
	})
	return entries, err
}

// PendingReviewCount returns how many conflicts for tenant still await
// manual resolution.
func (l *Log) PendingReviewCount(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := l.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		var err error
		n, err = tx.CountPendingReviewConflicts(ctx, tenantID)
		return err
	})
	return n, err
}
