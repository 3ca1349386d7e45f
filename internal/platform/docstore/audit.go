package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/neurobd/neurobd/internal/platform/middleware"
)

// AuditCollection holds the audit trail on the Mongo store.
const AuditCollection = "audit_log"

const auditWriteTimeout = 5 * time.Second

// AuditLog writes audit entries to the audit_log collection.
type AuditLog struct {
	coll *mongo.Collection
}

func NewAuditLog(database *mongo.Database) *AuditLog {
	return &AuditLog{coll: database.Collection(AuditCollection)}
}

// RecordAccess implements middleware.AuditRecorder.
func (a *AuditLog) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if _, err := a.coll.InsertOne(ctx, auditDocument(entry)); err != nil {
		return fmt.Errorf("audit log: insert: %w", err)
	}
	return nil
}

func auditDocument(entry middleware.AuditEntry) bson.D {
	recorded := entry.Timestamp
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	return bson.D{
		{Key: "_id", Value: uuid.New().String()},
		{Key: "user_id", Value: entry.UserID},
		{Key: "user_roles", Value: entry.UserRoles},
		{Key: "collection", Value: entry.Collection},
		{Key: "record_key", Value: entry.Key},
		{Key: "action", Value: entry.Action},
		{Key: "method", Value: entry.Method},
		{Key: "path", Value: entry.Path},
		{Key: "ip_address", Value: entry.IPAddress},
		{Key: "request_id", Value: entry.RequestID},
		{Key: "status_code", Value: entry.StatusCode},
		{Key: "recorded_at", Value: recorded},
	}
}
