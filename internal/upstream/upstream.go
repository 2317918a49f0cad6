// Package upstream is the upstream driver (C9): drains the outbox for one
// tenant, in dependency order, pushing each item to the sync server and
// interpreting its response. Grounded on internal/eventbus.Bus.Dispatch's
// sequential, error-resilient processing loop (handlers run one at a time,
// a handler's error is logged and does not stop the chain), generalized
// from event-handler dispatch to outbox-item dispatch.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pbookspro/synccore/internal/conflictlog"
	"github.com/pbookspro/synccore/internal/debug"
	"github.com/pbookspro/synccore/internal/outbox"
	"github.com/pbookspro/synccore/internal/recordlock"
	"github.com/pbookspro/synccore/internal/remoteapi"
	"github.com/pbookspro/synccore/internal/synctypes"
	"github.com/pbookspro/synccore/internal/syncmeta"
)

// sysPrefix is the reserved entity_id prefix that short-circuits a push
// without contacting the server (spec §4.6 step c).
const sysPrefix = "sys-"

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints conflict-log row IDs.
type IDGenerator interface {
	NewID() string
}

type Driver struct {
	outbox   *outbox.Outbox
	meta     *syncmeta.Store
	locks    *recordlock.Manager
	client   remoteapi.Client
	conflict *conflictlog.Log
	clock    Clock
	ids      IDGenerator
}

func New(ob *outbox.Outbox, meta *syncmeta.Store, locks *recordlock.Manager, client remoteapi.Client, conflict *conflictlog.Log, clock Clock, ids IDGenerator) *Driver {
	return &Driver{outbox: ob, meta: meta, locks: locks, client: client, conflict: conflict, clock: clock, ids: ids}
}

// Result is the upstream driver's counters (spec §4.6 "output").
type Result struct {
	Pushed int
	Failed int
}

// Run drains the outbox for tenant T, per spec §4.6's numbered steps.
func (d *Driver) Run(ctx context.Context, tenant string) (Result, error) {
	items, err := d.outbox.GetPending(ctx, tenant)
	if err != nil {
		return Result{}, fmt.Errorf("upstream: get_pending: %w", err)
	}

	synctypes.SortByDependencyRank(items)

	var result Result
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		d.processOne(ctx, tenant, item, &result)
	}

	if result.Pushed > 0 {
		if err := d.meta.SetLastSyncedAt(ctx, tenant, synctypes.GlobalEntityType, d.clock.Now()); err != nil {
			debug.Logf("upstream: set_last_synced_at failed: %v\n", err)
		}
	}

	return result, nil
}

func (d *Driver) processOne(ctx context.Context, tenant string, item synctypes.OutboxItem, result *Result) {
	// Tenant guard (spec §4.6 step a): defense in depth against a stray
	// cross-tenant row reaching the outbox.
	if item.TenantID != tenant {
		if err := d.outbox.MarkFailed(ctx, item.ID, fmt.Errorf("tenant mismatch")); err != nil {
			debug.Logf("upstream: mark_failed(tenant mismatch) failed: %v\n", err)
		}
		result.Failed++
		return
	}

	// Lock deferral (spec §4.6 step b): another user's live edit lock
	// defers this item to the next sync cycle without touching its status.
	if lock, found := d.locks.Get(item.EntityType, item.EntityID); found && lock.UserID != item.UserID {
		return
	}

	// System-entity shortcut (spec §4.6 step c).
	if strings.HasPrefix(item.EntityID, sysPrefix) {
		if err := d.outbox.MarkSynced(ctx, item.ID); err != nil {
			debug.Logf("upstream: mark_synced(sys-) failed: %v\n", err)
		}
		result.Pushed++
		return
	}

	if err := d.outbox.MarkSyncing(ctx, item.ID); err != nil {
		debug.Logf("upstream: mark_syncing failed: %v\n", err)
	}

	req := d.buildRequest(item)
	resp, err := d.client.Push(ctx, req)
	if err != nil {
		if markErr := d.outbox.MarkFailed(ctx, item.ID, err); markErr != nil {
			debug.Logf("upstream: mark_failed failed: %v\n", markErr)
		}
		result.Failed++
		return
	}

	d.applyOutcome(ctx, tenant, item, resp, result)
}

func (d *Driver) buildRequest(item synctypes.OutboxItem) remoteapi.PushRequest {
	endpoint := remoteapi.EndpointFor(string(item.EntityType))
	method := remoteapi.MethodPost
	if item.Action == synctypes.ActionDelete {
		method = remoteapi.MethodDelete
	}

	req := remoteapi.PushRequest{
		Method:         method,
		Endpoint:       endpoint,
		EntityID:       item.EntityID,
		IdempotencyKey: item.ID,
		Body:           item.PayloadJSON,
	}

	var payload map[string]any
	if len(item.PayloadJSON) > 0 && json.Unmarshal(item.PayloadJSON, &payload) == nil {
		if rec := synctypes.NewEntityRecordFromFields(item.EntityType, payload); rec.Version != 0 {
			ver := rec.Version
			req.Version = &ver
		}
	}
	return req
}

// applyOutcome implements spec §4.6 step g's full response classification.
func (d *Driver) applyOutcome(ctx context.Context, tenant string, item synctypes.OutboxItem, resp remoteapi.PushResponse, result *Result) {
	isTransaction := item.EntityType == synctypes.EntityTransactions
	outcome := remoteapi.ClassifyResponse(resp, isTransaction)

	switch outcome {
	case remoteapi.OutcomeSynced:
		if err := d.outbox.MarkSynced(ctx, item.ID); err != nil {
			debug.Logf("upstream: mark_synced failed: %v\n", err)
		}
		result.Pushed++

	case remoteapi.OutcomeSyncedAllForEntity:
		if err := d.outbox.MarkAllSyncedForEntity(ctx, tenant, item.EntityType, item.EntityID); err != nil {
			debug.Logf("upstream: mark_all_synced_for_entity failed: %v\n", err)
		}
		result.Pushed++

	case remoteapi.OutcomeVersionConflict:
		d.logServerWinsConflict(ctx, tenant, item, resp)
		if err := d.outbox.MarkSynced(ctx, item.ID); err != nil {
			debug.Logf("upstream: mark_synced(version conflict) failed: %v\n", err)
		}
		result.Pushed++

	default:
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		if err := d.outbox.MarkFailed(ctx, item.ID, fmt.Errorf("%s", msg)); err != nil {
			debug.Logf("upstream: mark_failed failed: %v\n", err)
		}
		result.Failed++
	}
}

func (d *Driver) logServerWinsConflict(ctx context.Context, tenant string, item synctypes.OutboxItem, resp remoteapi.PushResponse) {
	var localVersion *int64
	var payload map[string]any
	if len(item.PayloadJSON) > 0 && json.Unmarshal(item.PayloadJSON, &payload) == nil {
		rec := synctypes.NewEntityRecordFromFields(item.EntityType, payload)
		if rec.Version != 0 {
			v := rec.Version
			localVersion = &v
		}
	}

	d.conflict.Append(ctx, synctypes.ConflictEntry{
		ID:            d.ids.NewID(),
		TenantID:      tenant,
		EntityType:    item.EntityType,
		EntityID:      item.EntityID,
		LocalVersion:  localVersion,
		RemoteVersion: resp.ServerVersion,
		LocalData:     item.PayloadJSON,
		Resolution:    synctypes.ResolutionServerWins,
		ResolvedBy:    "auto",
		CreatedAt:     d.clock.Now(),
	})
}
