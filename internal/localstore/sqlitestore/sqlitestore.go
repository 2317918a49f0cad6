// Package sqlitestore is the production localstore.Store backend: a
// single-user embedded SQLite database (github.com/mattn/go-sqlite3),
// matching the teacher's database/sql query and transaction idioms
// (internal/storage/sqlite) but against one file per device instead of a
// shared Dolt server.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/synctypes"
)

// Store is the SQLite-backed localstore.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. Foreign keys start enabled, matching a fresh connection's
// PRAGMA default being off in sqlite3 unless explicitly turned on here.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // one writer; matches SQLite's single-writer model

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS entities (
	entity_type TEXT NOT NULL,
	id          TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	fields_json TEXT NOT NULL,
	PRIMARY KEY (entity_type, id)
);
CREATE INDEX IF NOT EXISTS idx_entities_tenant ON entities(entity_type, tenant_id);

CREATE TABLE IF NOT EXISTS sync_outbox (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	user_id       TEXT,
	entity_type   TEXT NOT NULL,
	action        TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	payload_json  TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	synced_at     TEXT,
	status        TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_tenant_status ON sync_outbox(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_outbox_entity ON sync_outbox(tenant_id, entity_type, entity_id);

CREATE TABLE IF NOT EXISTS sync_metadata (
	tenant_id      TEXT NOT NULL,
	entity_type    TEXT NOT NULL,
	last_synced_at TEXT,
	last_pull_at   TEXT,
	updated_at     TEXT NOT NULL,
	PRIMARY KEY (tenant_id, entity_type)
);

CREATE TABLE IF NOT EXISTS sync_conflicts (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	entity_type    TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	local_version  INTEGER,
	remote_version INTEGER,
	local_data     TEXT,
	remote_data    TEXT,
	resolution     TEXT NOT NULL,
	resolved_by    TEXT NOT NULL,
	device_id      TEXT,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_tenant ON sync_conflicts(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS record_locks (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	user_name   TEXT,
	tenant_id   TEXT,
	locked_at   TEXT NOT NULL,
	expires_at  TEXT NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return wrapDBError("migrate schema", err)
}

// Close closes the underlying *sql.DB.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a *sql.Tx, committing on nil and rolling back
// otherwise, matching the teacher's withTx helper referenced throughout
// internal/storage/sqlite (dirty.go, metadata_index.go).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx localstore.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin tx", err)
	}

	txAdapter := &tx{sqlTx: sqlTx}
	if err := fn(ctx, txAdapter); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return wrapDBError("commit tx", err)
	}
	return nil
}

type tx struct {
	sqlTx *sql.Tx
}

func (t *tx) UpsertEntity(ctx context.Context, entityType synctypes.EntityType, id string, fields map[string]any) error {
	cloned := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		cloned[k] = v
	}
	cloned["id"] = id
	rec := synctypes.NewEntityRecordFromFields(entityType, cloned)

	payload, err := json.Marshal(cloned)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal entity %s/%s: %w", entityType, id, err)
	}

	_, err = t.sqlTx.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, tenant_id, fields_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_type, id) DO UPDATE SET tenant_id = excluded.tenant_id, fields_json = excluded.fields_json
	`, string(entityType), id, rec.TenantID, string(payload))
	return wrapDBErrorf(err, "upsert entity %s/%s", entityType, id)
}

func (t *tx) GetEntity(ctx context.Context, entityType synctypes.EntityType, id string) (map[string]any, bool, error) {
	var raw string
	err := t.sqlTx.QueryRowContext(ctx, `
		SELECT fields_json FROM entities WHERE entity_type = ? AND id = ?
	`, string(entityType), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapDBErrorf(err, "get entity %s/%s", entityType, id)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, false, fmt.Errorf("sqlitestore: decode entity %s/%s: %w", entityType, id, err)
	}
	return fields, true, nil
}

func (t *tx) DeleteEntity(ctx context.Context, entityType synctypes.EntityType, id string) error {
	_, err := t.sqlTx.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(entityType), id)
	return wrapDBErrorf(err, "delete entity %s/%s", entityType, id)
}

func (t *tx) ListEntities(ctx context.Context, entityType synctypes.EntityType, tenantID string) ([]map[string]any, error) {
	query := `SELECT fields_json FROM entities WHERE entity_type = ?`
	args := []any{string(entityType)}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	rows, err := t.sqlTx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "list entities %s", entityType)
	}
	defer func() { _ = rows.Close() }()

	var out []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapDBError("scan entity row", err)
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode entity row: %w", err)
		}
		out = append(out, fields)
	}
	return out, wrapDBError("iterate entity rows", rows.Err())
}

// SetForeignKeysEnabled issues PRAGMA foreign_keys on the open transaction.
// SQLite treats that pragma as a no-op inside a transaction, so enforcement
// stays as the connection opened it (on); the schema declares no foreign keys.
func (t *tx) SetForeignKeysEnabled(ctx context.Context, enabled bool) error {
	val := "OFF"
	if enabled {
		val = "ON"
	}
	_, err := t.sqlTx.ExecContext(ctx, `PRAGMA foreign_keys = `+val)
	return wrapDBError("set foreign_keys pragma", err)
}

func (t *tx) InsertOutboxItem(ctx context.Context, item synctypes.OutboxItem) error {
	_, err := t.sqlTx.ExecContext(ctx, `
		INSERT INTO sync_outbox
			(id, tenant_id, user_id, entity_type, action, entity_id, payload_json,
			 created_at, updated_at, synced_at, status, retry_count, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.TenantID, nullableString(item.UserID), string(item.EntityType), string(item.Action),
		item.EntityID, nullableBytes(item.PayloadJSON), formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
		nullableTime(item.SyncedAt), string(item.Status), item.RetryCount, nullableString(item.ErrorMessage),
	)
	return wrapDBErrorf(err, "insert outbox item %s", item.ID)
}

func (t *tx) GetOutboxItem(ctx context.Context, id string) (synctypes.OutboxItem, bool, error) {
	row := t.sqlTx.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, entity_type, action, entity_id, payload_json,
			created_at, updated_at, synced_at, status, retry_count, error_message
		FROM sync_outbox WHERE id = ?
	`, id)
	item, err := scanOutboxItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return synctypes.OutboxItem{}, false, nil
	}
	if err != nil {
		return synctypes.OutboxItem{}, false, wrapDBErrorf(err, "get outbox item %s", id)
	}
	return item, true, nil
}

func (t *tx) FindPendingOutboxItem(ctx context.Context, tenantID string, entityType synctypes.EntityType, entityID string) (synctypes.OutboxItem, bool, error) {
	row := t.sqlTx.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, entity_type, action, entity_id, payload_json,
			created_at, updated_at, synced_at, status, retry_count, error_message
		FROM sync_outbox
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ? AND status IN ('pending', 'syncing')
		ORDER BY created_at DESC LIMIT 1
	`, tenantID, string(entityType), entityID)
	item, err := scanOutboxItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return synctypes.OutboxItem{}, false, nil
	}
	if err != nil {
		return synctypes.OutboxItem{}, false, wrapDBError("find pending outbox item", err)
	}
	return item, true, nil
}

func (t *tx) DeleteOutboxItem(ctx context.Context, id string) error {
	_, err := t.sqlTx.ExecContext(ctx, `DELETE FROM sync_outbox WHERE id = ?`, id)
	return wrapDBErrorf(err, "delete outbox item %s", id)
}

func (t *tx) UpdateOutboxItem(ctx context.Context, item synctypes.OutboxItem) error {
	res, err := t.sqlTx.ExecContext(ctx, `
		UPDATE sync_outbox SET
			tenant_id = ?, user_id = ?, entity_type = ?, action = ?, entity_id = ?,
			payload_json = ?, updated_at = ?, synced_at = ?, status = ?, retry_count = ?, error_message = ?
		WHERE id = ?
	`,
		item.TenantID, nullableString(item.UserID), string(item.EntityType), string(item.Action), item.EntityID,
		nullableBytes(item.PayloadJSON), formatTime(item.UpdatedAt), nullableTime(item.SyncedAt),
		string(item.Status), item.RetryCount, nullableString(item.ErrorMessage), item.ID,
	)
	if err != nil {
		return wrapDBErrorf(err, "update outbox item %s", item.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("update outbox item %s: %w", item.ID, localstore.ErrNotFound)
	}
	return nil
}

func (t *tx) ListOutboxItems(ctx context.Context, tenantID string, statuses ...synctypes.OutboxStatus) ([]synctypes.OutboxItem, error) {
	query := `
		SELECT id, tenant_id, user_id, entity_type, action, entity_id, payload_json,
			created_at, updated_at, synced_at, status, retry_count, error_message
		FROM sync_outbox WHERE tenant_id = ?`
	args := []any{tenantID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := t.sqlTx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list outbox items", err)
	}
	defer func() { _ = rows.Close() }()

	var out []synctypes.OutboxItem
	for rows.Next() {
		item, err := scanOutboxItem(rows)
		if err != nil {
			return nil, wrapDBError("scan outbox row", err)
		}
		out = append(out, item)
	}
	return out, wrapDBError("iterate outbox rows", rows.Err())
}

func (t *tx) DeleteOutboxItemsOlderThan(ctx context.Context, status synctypes.OutboxStatus, cutoff time.Time) (int, error) {
	res, err := t.sqlTx.ExecContext(ctx, `
		DELETE FROM sync_outbox WHERE status = ? AND synced_at IS NOT NULL AND synced_at < ?
	`, string(status), formatTime(cutoff))
	if err != nil {
		return 0, wrapDBError("delete old outbox items", err)
	}
	n, err := res.RowsAffected()
	return int(n), wrapDBError("rows affected", err)
}

func (t *tx) GetSyncMetadata(ctx context.Context, tenantID string, entityType synctypes.EntityType) (synctypes.SyncMetadata, bool, error) {
	var lastSynced, lastPull, updatedAt sql.NullString
	err := t.sqlTx.QueryRowContext(ctx, `
		SELECT last_synced_at, last_pull_at, updated_at FROM sync_metadata
		WHERE tenant_id = ? AND entity_type = ?
	`, tenantID, string(entityType)).Scan(&lastSynced, &lastPull, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return synctypes.SyncMetadata{}, false, nil
	}
	if err != nil {
		return synctypes.SyncMetadata{}, false, wrapDBError("get sync metadata", err)
	}
	return synctypes.SyncMetadata{
		TenantID:     tenantID,
		EntityType:   entityType,
		LastSyncedAt: parseTime(lastSynced.String),
		LastPullAt:   parseTime(lastPull.String),
		UpdatedAt:    parseTime(updatedAt.String),
	}, true, nil
}

func (t *tx) PutSyncMetadata(ctx context.Context, meta synctypes.SyncMetadata) error {
	_, err := t.sqlTx.ExecContext(ctx, `
		INSERT INTO sync_metadata (tenant_id, entity_type, last_synced_at, last_pull_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_type) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			last_pull_at = excluded.last_pull_at,
			updated_at = excluded.updated_at
	`, meta.TenantID, string(meta.EntityType), formatTime(meta.LastSyncedAt), formatTime(meta.LastPullAt), formatTime(meta.UpdatedAt))
	return wrapDBError("put sync metadata", err)
}

func (t *tx) InsertConflict(ctx context.Context, entry synctypes.ConflictEntry) error {
	_, err := t.sqlTx.ExecContext(ctx, `
		INSERT INTO sync_conflicts
			(id, tenant_id, entity_type, entity_id, local_version, remote_version,
			 local_data, remote_data, resolution, resolved_by, device_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.TenantID, string(entry.EntityType), entry.EntityID,
		nullableInt64Ptr(entry.LocalVersion), nullableInt64Ptr(entry.RemoteVersion),
		nullableBytes(entry.LocalData), nullableBytes(entry.RemoteData),
		string(entry.Resolution), entry.ResolvedBy, nullableString(entry.DeviceID), formatTime(entry.CreatedAt),
	)
	return wrapDBErrorf(err, "insert conflict %s", entry.ID)
}

func (t *tx) ListRecentConflicts(ctx context.Context, tenantID string, limit int) ([]synctypes.ConflictEntry, error) {
	rows, err := t.sqlTx.QueryContext(ctx, `
		SELECT id, tenant_id, entity_type, entity_id, local_version, remote_version,
			local_data, remote_data, resolution, resolved_by, device_id, created_at
		FROM sync_conflicts WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, wrapDBError("list recent conflicts", err)
	}
	defer func() { _ = rows.Close() }()

	var out []synctypes.ConflictEntry
	for rows.Next() {
		var entry synctypes.ConflictEntry
		var entityType, createdAt string
		var localVersion, remoteVersion sql.NullInt64
		var localData, remoteData sql.NullString
		var deviceID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entityType, &entry.EntityID,
			&localVersion, &remoteVersion, &localData, &remoteData,
			&entry.Resolution, &entry.ResolvedBy, &deviceID, &createdAt); err != nil {
			return nil, wrapDBError("scan conflict row", err)
		}
		entry.EntityType = synctypes.EntityType(entityType)
		entry.CreatedAt = parseTime(createdAt)
		entry.DeviceID = deviceID.String
		if localVersion.Valid {
			v := localVersion.Int64
			entry.LocalVersion = &v
		}
		if remoteVersion.Valid {
			v := remoteVersion.Int64
			entry.RemoteVersion = &v
		}
		if localData.Valid {
			entry.LocalData = []byte(localData.String)
		}
		if remoteData.Valid {
			entry.RemoteData = []byte(remoteData.String)
		}
		out = append(out, entry)
	}
	return out, wrapDBError("iterate conflict rows", rows.Err())
}

func (t *tx) CountPendingReviewConflicts(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := t.sqlTx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_conflicts WHERE tenant_id = ? AND resolution = ?
	`, tenantID, string(synctypes.ResolutionPendingReview)).Scan(&n)
	return n, wrapDBError("count pending review conflicts", err)
}

func (t *tx) GetLock(ctx context.Context, entityType synctypes.EntityType, entityID string) (synctypes.RecordLock, bool, error) {
	row := t.sqlTx.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, user_id, user_name, tenant_id, locked_at, expires_at
		FROM record_locks WHERE id = ?
	`, lockRowID(entityType, entityID))
	lock, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return synctypes.RecordLock{}, false, nil
	}
	if err != nil {
		return synctypes.RecordLock{}, false, wrapDBError("get lock", err)
	}
	return lock, true, nil
}

func (t *tx) PutLock(ctx context.Context, lock synctypes.RecordLock) error {
	_, err := t.sqlTx.ExecContext(ctx, `
		INSERT INTO record_locks (id, entity_type, entity_id, user_id, user_name, tenant_id, locked_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id, user_name = excluded.user_name,
			tenant_id = excluded.tenant_id, locked_at = excluded.locked_at, expires_at = excluded.expires_at
	`, lockRowID(lock.EntityType, lock.EntityID), string(lock.EntityType), lock.EntityID,
		lock.UserID, lock.UserName, lock.TenantID, formatTime(lock.LockedAt), formatTime(lock.ExpiresAt))
	return wrapDBError("put lock", err)
}

func (t *tx) DeleteLock(ctx context.Context, entityType synctypes.EntityType, entityID string) error {
	_, err := t.sqlTx.ExecContext(ctx, `DELETE FROM record_locks WHERE id = ?`, lockRowID(entityType, entityID))
	return wrapDBError("delete lock", err)
}

func (t *tx) ListLocks(ctx context.Context, tenantID string) ([]synctypes.RecordLock, error) {
	query := `SELECT entity_type, entity_id, user_id, user_name, tenant_id, locked_at, expires_at FROM record_locks`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	rows, err := t.sqlTx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list locks", err)
	}
	defer func() { _ = rows.Close() }()

	var out []synctypes.RecordLock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, wrapDBError("scan lock row", err)
		}
		out = append(out, lock)
	}
	return out, wrapDBError("iterate lock rows", rows.Err())
}

func lockRowID(entityType synctypes.EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}
