package remotecache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is a single logged admin action. The framework writes one
// for each InvalidatePattern call; task cancellations are not logged.
// Grounded on invalidation/audit.go's AuditLog record shape.
type AuditRecord struct {
	ID        string
	RequestID string
	Action    string
	Key       string
	Pattern   string
	At        time.Time
}

// AuditLog persists AuditRecords to Postgres, reusing PostgresCache's
// pool rather than opening a second connection — the same database
// instance backs both the remote cache and its audit trail, mirroring
// invalidation/service.go wiring a single db handle for both concerns.
type AuditLog struct {
	cache *PostgresCache
}

func NewAuditLog(cache *PostgresCache) *AuditLog {
	return &AuditLog{cache: cache}
}

func (a *AuditLog) ensureSchema(ctx context.Context) error {
	_, err := a.cache.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fantail_audit_log (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			action TEXT NOT NULL,
			key TEXT,
			pattern TEXT,
			at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("remotecache: ensure audit schema: %w", err)
	}
	return nil
}

func (a *AuditLog) Insert(ctx context.Context, requestID, action, key, pattern string) error {
	if err := a.ensureSchema(ctx); err != nil {
		return err
	}
	rec := AuditRecord{ID: uuid.NewString(), RequestID: requestID, Action: action, Key: key, Pattern: pattern, At: time.Now()}
	_, err := a.cache.pool.Exec(ctx, `
		INSERT INTO fantail_audit_log (id, request_id, action, key, pattern, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.RequestID, rec.Action, rec.Key, rec.Pattern, rec.At)
	if err != nil {
		return fmt.Errorf("remotecache: insert audit record: %w", err)
	}
	return nil
}

func (a *AuditLog) GetByRequestID(ctx context.Context, requestID string) ([]AuditRecord, error) {
	rows, err := a.cache.pool.Query(ctx, `
		SELECT id, request_id, action, key, pattern, at FROM fantail_audit_log WHERE request_id = $1 ORDER BY at DESC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("remotecache: query audit by request id: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Action, &r.Key, &r.Pattern, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
