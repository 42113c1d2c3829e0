// Package notify creates in-app notifications for users and fans
// system events out to every staff member.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lexdesk/portal-backend/internal/metrics"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Related names the resource a notification points at.
type Related struct {
	Kind   string // case, document, payment
	ID     uuid.UUID
	CaseID *uuid.UUID
}

type Message struct {
	Title    string
	Message  string
	Type     models.NotificationType
	Priority models.NotificationPriority
	CaseID   *uuid.UUID
	Link     string
	Related  *Related
}

// DeriveLink returns the UI route for a related resource.
func DeriveLink(r *Related) string {
	if r == nil {
		return ""
	}
	switch r.Kind {
	case "case":
		return fmt.Sprintf("/cases/%s", r.ID)
	case "document":
		if r.CaseID != nil {
			return fmt.Sprintf("/documents?case_id=%s", *r.CaseID)
		}
		return "/documents"
	case "payment":
		return "/payments"
	}
	return ""
}

type Service struct {
	db      *gorm.DB
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewService(db *gorm.DB, log *slog.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, log: log, metrics: m}
}

func (s *Service) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func (m Message) row(userID uuid.UUID) models.Notification {
	typ := m.Type
	if typ == "" {
		typ = models.NotifyInApp
	}
	prio := m.Priority
	if prio == "" {
		prio = models.PriorityMedium
	}
	link := m.Link
	if link == "" {
		link = DeriveLink(m.Related)
	}
	now := time.Now()
	return models.Notification{
		UserID:   userID,
		CaseID:   m.CaseID,
		Title:    m.Title,
		Message:  m.Message,
		Type:     typ,
		Priority: prio,
		Link:     link,
		IsSent:   true, // in-app delivery happens on insert
		SentAt:   &now,
	}
}

// NotifyUser creates one notification for userID.
func (s *Service) NotifyUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, m Message) (*models.Notification, error) {
	n := m.row(userID)
	if err := s.conn(ctx, tx).Create(&n).Error; err != nil {
		return nil, errors.Wrap(err, "create notification")
	}
	s.metrics.Notification(string(n.Type))
	return &n, nil
}

// NotifyAllStaff writes one identical notification per admin and lawyer.
func (s *Service) NotifyAllStaff(ctx context.Context, tx *gorm.DB, m Message) (int, error) {
	var staffIDs []uuid.UUID
	if err := s.conn(ctx, tx).Model(&models.User{}).
		Where("role IN ?", models.StaffRoles).
		Pluck("id", &staffIDs).Error; err != nil {
		return 0, errors.Wrap(err, "list staff")
	}
	for _, id := range staffIDs {
		if _, err := s.NotifyUser(ctx, tx, id, m); err != nil {
			return 0, err
		}
	}
	s.log.Debug("notified staff", slog.String("title", m.Title), slog.Int("recipients", len(staffIDs)))
	return len(staffIDs), nil
}
