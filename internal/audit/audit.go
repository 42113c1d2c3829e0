// Package audit writes the append-only audit trail. Entries are never
// updated or deleted; the model hooks refuse both.
package audit

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lexdesk/portal-backend/internal/metrics"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionUpdate   Action = "UPDATE"
	ActionDelete   Action = "DELETE"
	ActionView     Action = "VIEW"
	ActionUpload   Action = "UPLOAD"
	ActionDownload Action = "DOWNLOAD"
	ActionLogin    Action = "LOGIN"
)

type Resource string

const (
	ResCase          Resource = "CASE"
	ResCaseList      Resource = "CASE_LIST"
	ResTimelineEvent Resource = "TIMELINE_EVENT"
	ResDocument      Resource = "DOCUMENT"
	ResPayment       Resource = "PAYMENT"
	ResClient        Resource = "CLIENT"
	ResClientList    Resource = "CLIENT_LIST"
	ResUser          Resource = "USER"
)

// RequestMeta is request-scoped context copied onto each entry.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

// MetaFrom reads IP, user agent and the requestid middleware's header.
func MetaFrom(c *fiber.Ctx) RequestMeta {
	rid, _ := c.Locals("requestid").(string)
	if rid == "" {
		rid = c.Get(fiber.HeaderXRequestID)
	}
	return RequestMeta{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		RequestID: rid,
	}
}

type Entry struct {
	Actor       permissions.Actor
	Action      Action
	Resource    Resource
	ResourceID  *uuid.UUID
	Description string
	Changes     map[string]any
	Meta        RequestMeta
}

type Recorder struct {
	db      *gorm.DB
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(db *gorm.DB, log *slog.Logger, m *metrics.Metrics) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{db: db, log: log, metrics: m}
}

// Record appends one entry. When tx is non-nil the entry joins that
// transaction, so it commits or rolls back with the mutation it describes.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, e Entry) (*models.AuditLog, error) {
	db := tx
	if db == nil {
		db = r.db
	}
	row := models.AuditLog{
		UserID:       e.Actor.ID,
		Action:       string(e.Action),
		ResourceType: string(e.Resource),
		ResourceID:   e.ResourceID,
		Description:  e.Description,
		Changes:      datatypes.JSONMap(e.Changes),
		IPAddress:    e.Meta.IP,
		UserAgent:    e.Meta.UserAgent,
		RequestID:    e.Meta.RequestID,
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, errors.Wrapf(err, "audit %s %s", e.Action, e.Resource)
	}
	r.metrics.AuditEntry(row.Action, row.ResourceType)
	r.log.Debug("audit entry",
		slog.String("action", row.Action),
		slog.String("resource", row.ResourceType),
		slog.String("user_id", row.UserID.String()),
		slog.String("request_id", row.RequestID),
	)
	return &row, nil
}

// Changes builds the {old, new} snapshot stored with UPDATE entries.
func Changes(old, new any) map[string]any {
	return map[string]any{"old": old, "new": new}
}

// ID is a helper for the optional ResourceID field.
func ID(id uuid.UUID) *uuid.UUID { return &id }
