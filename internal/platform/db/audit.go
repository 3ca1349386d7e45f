package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neurobd/neurobd/internal/platform/middleware"
)

// auditWriteTimeout bounds a single audit insert. Entries are recorded after
// the handler returns, so the request context is not reused.
const auditWriteTimeout = 5 * time.Second

// AuditLog writes audit entries to the audit_log table.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates a new AuditLog backed by the given connection pool.
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

const insertAuditSQL = `
	INSERT INTO audit_log (
		id, user_id, user_roles, collection, record_key,
		action, method, path, ip_address, request_id,
		status_code, recorded_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

// RecordAccess implements middleware.AuditRecorder.
func (a *AuditLog) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if _, err := a.pool.Exec(ctx, insertAuditSQL, auditArgs(entry)...); err != nil {
		return fmt.Errorf("audit log: insert: %w", err)
	}
	return nil
}

func auditArgs(entry middleware.AuditEntry) []any {
	recorded := entry.Timestamp
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	roles := entry.UserRoles
	if roles == nil {
		roles = []string{}
	}
	return []any{
		uuid.New(), entry.UserID, roles, entry.Collection, entry.Key,
		entry.Action, entry.Method, entry.Path, entry.IPAddress, entry.RequestID,
		entry.StatusCode, recorded,
	}
}
