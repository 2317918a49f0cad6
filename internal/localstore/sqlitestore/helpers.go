package sqlitestore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pbookspro/synccore/internal/localstore"
	"github.com/pbookspro/synccore/internal/synctypes"
)

// wrapDBError and wrapDBErrorf mirror the teacher's
// internal/storage/sqlite/errors.go: they attach operation context and
// convert sql.ErrNoRows to the package's own ErrNotFound sentinel so
// callers can branch with errors.Is regardless of backend.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, localstore.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func wrapDBErrorf(err error, format string, args ...any) error {
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanOutboxItem/scanLock serve single-row and multi-row callers alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxItem(row rowScanner) (synctypes.OutboxItem, error) {
	var item synctypes.OutboxItem
	var entityType, action, status string
	var userID, errMsg, payload sql.NullString
	var createdAt, updatedAt string
	var syncedAt sql.NullString

	if err := row.Scan(&item.ID, &item.TenantID, &userID, &entityType, &action, &item.EntityID,
		&payload, &createdAt, &updatedAt, &syncedAt, &status, &item.RetryCount, &errMsg); err != nil {
		return synctypes.OutboxItem{}, err
	}

	item.EntityType = synctypes.EntityType(entityType)
	item.Action = synctypes.OutboxAction(action)
	item.Status = synctypes.OutboxStatus(status)
	item.UserID = userID.String
	item.ErrorMessage = errMsg.String
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	if payload.Valid {
		item.PayloadJSON = []byte(payload.String)
	}
	if syncedAt.Valid {
		t := parseTime(syncedAt.String)
		item.SyncedAt = &t
	}
	return item, nil
}

func scanLock(row rowScanner) (synctypes.RecordLock, error) {
	var lock synctypes.RecordLock
	var entityType, lockedAt, expiresAt string
	var userName, tenantID sql.NullString
	if err := row.Scan(&entityType, &lock.EntityID, &lock.UserID, &userName, &tenantID, &lockedAt, &expiresAt); err != nil {
		return synctypes.RecordLock{}, err
	}
	lock.EntityType = synctypes.EntityType(entityType)
	lock.UserName = userName.String
	lock.TenantID = tenantID.String
	lock.LockedAt = parseTime(lockedAt)
	lock.ExpiresAt = parseTime(expiresAt)
	return lock, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}
