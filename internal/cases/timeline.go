package cases

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/casestate"
	"github.com/lexdesk/portal-backend/internal/notify"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/lexdesk/portal-backend/pkg/validation"
)

type CreateTimelineEventRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	EventDate   time.Time `json:"event_date" validate:"required"`
	EventType   string    `json:"event_type" validate:"required,oneof=hearing report decision payment document generic"`
	StageID     string    `json:"stage_id" validate:"max=50"`
}

// ListTimeline godoc
// @Summary      Case timeline
// @Description  Events newest first
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "case id (uuid)"
// @Success      200  {array}   models.TimelineEvent
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/timeline [get]
func (h *Handler) ListTimeline(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	cs, err := h.loadCase(c)
	if err != nil {
		return err
	}
	if !permissions.CanAccessCase(actor, cs) {
		return apperr.Forbidden("You do not have access to this case")
	}

	events := []models.TimelineEvent{}
	if err := h.db.WithContext(c.UserContext()).
		Where("case_id = ?", cs.ID).
		Order("event_date DESC, created_at DESC").
		Find(&events).Error; err != nil {
		return err
	}
	return c.JSON(events)
}

// CreateTimelineEvent godoc
// @Summary      Add timeline event
// @Description  Staff only. stage_id, when given, must name a stage of the case.
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                      true  "case id (uuid)"
// @Param        payload  body  CreateTimelineEventRequest  true  "Event"
// @Success      201  {object}  models.TimelineEvent
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/timeline [post]
func (h *Handler) CreateTimelineEvent(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	cs, err := h.loadCase(c)
	if err != nil {
		return err
	}
	if !permissions.CanAddTimelineEvent(actor) {
		return apperr.Forbidden("Only staff can add timeline events")
	}

	var in CreateTimelineEventRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if err := validation.Check(in); err != nil {
		return err
	}

	ev := models.TimelineEvent{
		CaseID:      cs.ID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		EventDate:   in.EventDate.UTC(),
		EventType:   models.TimelineEventType(in.EventType),
		CreatedByID: actor.ID,
	}
	if sid := strings.TrimSpace(in.StageID); sid != "" {
		if !casestate.HasStage(cs.Stages, sid) {
			return apperr.Field("stage_id", "Stage does not exist on this case")
		}
		ev.StageID = &sid
	}

	ctx := c.UserContext()
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		if _, err := h.notify.NotifyUser(ctx, tx, cs.ClientID, notify.Message{
			Title:    "New case event",
			Message:  fmt.Sprintf("%s on case %s (%s).", ev.Title, cs.CaseNumber, ev.EventDate.Format("2006-01-02")),
			Type:     models.NotifyCaseUpdate,
			Priority: models.PriorityMedium,
			CaseID:   &cs.ID,
			Related:  &notify.Related{Kind: "case", ID: cs.ID},
		}); err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionCreate, Resource: audit.ResTimelineEvent,
			ResourceID: audit.ID(ev.ID), Description: "Added timeline event to case " + cs.CaseNumber,
			Changes: map[string]any{"new": map[string]any{
				"case_id": cs.ID, "title": ev.Title, "event_type": ev.EventType, "stage_id": ev.StageID,
			}},
			Meta: audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(ev)
}
