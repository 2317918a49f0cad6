// Package downstream is the downstream driver (C10): pulls the delta since
// the tenant's last watermark, applies it in dependency-rank order with
// foreign-key enforcement relaxed for the duration, conflict-resolving each
// row against the local copy, and yields cooperatively between chunks.
// Grounded on internal/coop/monitor.go's ticker/goroutine cooperative loop
// shape, adapted from a polling loop to a chunked-apply loop.
package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/pbookspro/synccore/internal/conflictlog"
	"github.com/pbookspro/synccore/internal/debug"
	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/remoteapi"
	"github.com/pbookspro/synccore/internal/resolver"
	"github.com/pbookspro/synccore/internal/synctypes"
	"github.com/pbookspro/synccore/internal/syncmeta"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints conflict-log row IDs.
type IDGenerator interface {
	NewID() string
}

// ChunkSizeFunc reads the configured apply chunk size (spec §4.7 step 8).
// Injected rather than imported directly so tests can shrink it.
type ChunkSizeFunc func() int

type Driver struct {
	store     localstore.Store
	meta      *syncmeta.Store
	client    remoteapi.Client
	conflict  *conflictlog.Log
	clock     Clock
	ids       IDGenerator
	chunkSize ChunkSizeFunc
	notifier  Notifier
}

func New(store localstore.Store, meta *syncmeta.Store, client remoteapi.Client, conflict *conflictlog.Log, clock Clock, ids IDGenerator, chunkSize ChunkSizeFunc, notifier Notifier) *Driver {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Driver{store: store, meta: meta, client: client, conflict: conflict, clock: clock, ids: ids, chunkSize: chunkSize, notifier: notifier}
}

// Result is the downstream driver's counters (spec §4.7 "output":
// applied, skipped, conflicts, plus the tenant-guard drop count from
// step 2).
type Result struct {
	Applied   int
	Skipped   int
	Conflicts int
	Dropped   int
}

// row pairs a pulled entity with its already-resolved dependency rank, so a
// single stable sort orders every entity type together (spec §4.7 step 3).
type row struct {
	entityType synctypes.EntityType
	record     synctypes.EntityRecord
}

func (r row) DependencyEntityType() synctypes.EntityType { return r.entityType }

// Run pulls and applies the delta for tenant T, per spec §4.7's numbered steps.
func (d *Driver) Run(ctx context.Context, tenant string) (Result, error) {
	since, err := d.meta.GetLastPullAt(ctx, tenant)
	if err != nil {
		return Result{}, fmt.Errorf("downstream: get_last_pull_at: %w", err)
	}

	pulled, err := d.client.PullSince(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("downstream: pull_since: %w", err)
	}

	rows, dropped := d.collectRows(tenant, pulled)
	synctypes.SortByDependencyRank(rows)

	result := Result{Dropped: dropped}

	if err := d.applyInChunks(ctx, tenant, rows, &result); err != nil {
		return result, err
	}

	// Step 10 always advances the watermark on a successful pull; only the
	// downstream_complete notification is gated on having applied rows.
	if err := d.meta.SetLastPullAt(ctx, tenant, d.clock.Now()); err != nil {
		debug.Logf("downstream: set_last_pull_at failed: %v\n", err)
	}
	if result.Applied > 0 {
		if err := d.notifier.PublishDownstreamComplete(ctx, tenant, result.Applied); err != nil {
			debug.Logf("downstream: downstream_complete notify failed: %v\n", err)
		}
	}

	return result, nil
}

// collectRows decodes every pulled row and drops ones failing the tenant
// guard (spec §4.7 step 2: missing id, or tenant_id/org_id mismatch).
func (d *Driver) collectRows(tenant string, pulled remoteapi.PulledEntities) ([]row, int) {
	var rows []row
	dropped := 0

	for entityTypeStr, rawRows := range pulled.Entities {
		entityType := synctypes.EntityType(entityTypeStr)
		for _, raw := range rawRows {
			rec, err := synctypes.NewEntityRecordFromJSON(entityType, raw)
			if err != nil || rec.ID == "" {
				debug.Logf("downstream: dropping %s row with no id: %v\n", entityType, err)
				dropped++
				continue
			}
			if org, ok := rec.Fields["org_id"].(string); ok && org != "" && rec.TenantID != org {
				debug.Logf("downstream: warning: dropping %s/%s: tenant_id %q and org_id %q diverge\n", entityType, rec.ID, rec.TenantID, org)
				dropped++
				continue
			}
			if rec.TenantID != "" && rec.TenantID != tenant {
				debug.Logf("downstream: dropping %s/%s: tenant mismatch (%s != %s)\n", entityType, rec.ID, rec.TenantID, tenant)
				dropped++
				continue
			}
			rows = append(rows, row{entityType: entityType, record: rec})
		}
	}

	return rows, dropped
}

// applyInChunks applies rows in fixed-size chunks inside one FK-relaxed
// transaction per chunk, yielding to the scheduler between chunks (spec
// §4.7 steps 5-9). FK enforcement is restored on every exit, including
// an error or a cancelled context, per spec §5's "guaranteed on all exits".
func (d *Driver) applyInChunks(ctx context.Context, tenant string, rows []row, result *Result) error {
	if len(rows) == 0 {
		return nil
	}

	size := d.chunkSize()
	if size <= 0 {
		size = len(rows)
	}

	for start := 0; start < len(rows); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		if err := d.applyChunk(ctx, tenant, chunk, result); err != nil {
			return err
		}

		if end < len(rows) {
			runtime.Gosched()
		}
	}

	return nil
}

// applyChunk applies one chunk inside an FK-relaxed transaction, then emits
// a chunk_applied notification for the rows it actually applied (spec
// §4.7 step 8). Rows resolved as use_local count as skipped, not applied.
func (d *Driver) applyChunk(ctx context.Context, tenant string, chunk []row, result *Result) error {
	chunkApplied := 0

	err := d.store.WithTx(ctx, func(ctx context.Context, tx localstore.Tx) error {
		if err := tx.SetForeignKeysEnabled(ctx, false); err != nil {
			return fmt.Errorf("downstream: disable foreign keys: %w", err)
		}
		defer func() {
			if err := tx.SetForeignKeysEnabled(ctx, true); err != nil {
				debug.Logf("downstream: re-enable foreign keys failed: %v\n", err)
			}
		}()

		for _, r := range chunk {
			outcome, err := d.applyRow(ctx, tx, tenant, r)
			if err != nil {
				return err
			}
			if outcome.applied {
				result.Applied++
				chunkApplied++
			}
			if outcome.skipped {
				result.Skipped++
			}
			if outcome.conflict {
				result.Conflicts++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if chunkApplied > 0 {
		if err := d.notifier.PublishChunkApplied(ctx, tenant, chunkApplied); err != nil {
			debug.Logf("downstream: chunk_applied notify failed: %v\n", err)
		}
	}

	return nil
}

// rowOutcome records what happened to one row, for the caller's counters.
type rowOutcome struct {
	applied  bool
	skipped  bool
	conflict bool
}

// applyRow resolves r against the current local copy (if any) and upserts
// the winning fields, logging a conflict entry whenever a local copy exists
// and the resolver's verdict isn't a trivial remote_wins (spec §4.7 step 6,
// §4.3: "all non-trivial decisions produce a conflict log entry").
func (d *Driver) applyRow(ctx context.Context, tx localstore.Tx, tenant string, r row) (rowOutcome, error) {
	existingFields, found, err := tx.GetEntity(ctx, r.entityType, r.record.ID)
	if err != nil {
		return rowOutcome{}, fmt.Errorf("downstream: get_entity %s/%s: %w", r.entityType, r.record.ID, err)
	}

	if !found {
		if err := tx.UpsertEntity(ctx, r.entityType, r.record.ID, r.record.Fields); err != nil {
			return rowOutcome{}, err
		}
		return rowOutcome{applied: true}, nil
	}

	local := synctypes.NewEntityRecordFromFields(r.entityType, existingFields)
	decision := resolver.Resolve(resolver.Context{
		EntityType: r.entityType,
		EntityID:   r.record.ID,
		TenantID:   tenant,
		Local:      local,
		Remote:     r.record,
	})

	outcome := rowOutcome{}
	if decision.Resolution != resolver.ResolutionRemoteWins {
		lv, rv := local.Version, r.record.Version
		localData, _ := json.Marshal(existingFields)
		remoteData, _ := json.Marshal(r.record.Fields)
		d.conflict.Append(ctx, synctypes.ConflictEntry{
			ID:            d.ids.NewID(),
			TenantID:      tenant,
			EntityType:    r.entityType,
			EntityID:      r.record.ID,
			LocalVersion:  &lv,
			RemoteVersion: &rv,
			LocalData:     localData,
			RemoteData:    remoteData,
			Resolution:    decision.Resolution,
			ResolvedBy:    "auto",
			CreatedAt:     d.clock.Now(),
		})
		outcome.conflict = true
	}

	switch decision.Outcome {
	case resolver.UseLocal:
		outcome.skipped = true
		return outcome, nil
	case resolver.UseMerged:
		outcome.applied = true
		return outcome, tx.UpsertEntity(ctx, r.entityType, r.record.ID, decision.MergedFields)
	default: // UseRemote
		outcome.applied = true
		return outcome, tx.UpsertEntity(ctx, r.entityType, r.record.ID, r.record.Fields)
	}
}
