package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neurobd/neurobd/internal/platform/auth"
)

// AuditEntry records one data-changing request.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Collection string
	Key        string
	Action     string // create, update, delete, import
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every POST, PATCH, PUT and DELETE with the authenticated user and
// the affected collection. Recorders, when given, receive the entry as well.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action := actionForMethod(req.Method)
			if action == "" {
				return next(c)
			}

			err := next(c)

			collection, key := collectionFromPath(req.URL.Path)
			if collection == "import" {
				action = "import"
			}
			rid, _ := c.Get("request_id").(string)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Collection: collection,
				Key:        key,
				Action:     action,
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				RequestID:  rid,
				StatusCode: auditStatus(c, err),
				Timestamp:  time.Now().UTC(),
			}

			if len(recorders) == 0 {
				logger.Info().
					Str("audit", "data_change").
					Str("user_id", entry.UserID).
					Strs("roles", entry.UserRoles).
					Str("collection", entry.Collection).
					Str("key", entry.Key).
					Str("action", entry.Action).
					Int("status", entry.StatusCode).
					Str("request_id", entry.RequestID).
					Str("ip", entry.IPAddress).
					Msg("audit")
			}
			for _, r := range recorders {
				if rerr := r.RecordAccess(entry); rerr != nil {
					logger.Error().Err(rerr).Str("request_id", rid).Msg("audit record failed")
				}
			}
			return err
		}
	}
}

func actionForMethod(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return ""
}

// collectionFromPath extracts the collection and the remaining key segments
// from paths such as /api/v1/assessments/3/SNAP-IV.
func collectionFromPath(path string) (string, string) {
	path = strings.TrimPrefix(path, "/api/v1")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], "/")
}

func auditStatus(c echo.Context, err error) int {
	if err != nil {
		if he, ok := err.(*echo.HTTPError); ok {
			return he.Code
		}
		return http.StatusInternalServerError
	}
	return c.Response().Status
}
