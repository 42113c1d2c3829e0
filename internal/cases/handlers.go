package cases

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/casestate"
	"github.com/lexdesk/portal-backend/internal/notify"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/lexdesk/portal-backend/pkg/sanitize"
	"github.com/lexdesk/portal-backend/pkg/utils"
	"github.com/lexdesk/portal-backend/pkg/validation"
)

// ===== DTOs =====

type CreateCaseRequest struct {
	CaseNumber      string            `json:"case_number" validate:"required,max=50"`
	Title           string            `json:"title" validate:"required,max=200"`
	Description     string            `json:"description" validate:"max=5000"`
	CaseType        string            `json:"case_type" validate:"required,oneof=civil criminal commercial labor administrative execution other"`
	Status          string            `json:"status" validate:"omitempty,oneof=pending in_progress waiting_court completed archived"`
	CourtName       string            `json:"court_name" validate:"max=200"`
	FileNumber      string            `json:"file_number" validate:"max=100"`
	ClientID        string            `json:"client_id" validate:"omitempty,uuid"`
	StartDate       *time.Time        `json:"start_date"`
	NextHearingDate *time.Time        `json:"next_hearing_date"`
	Stages          []casestate.Stage `json:"stages" validate:"omitempty,dive"`
}

type UpdateCaseRequest struct {
	Title           *string            `json:"title" validate:"omitempty,min=1,max=200"`
	Description     *string            `json:"description" validate:"omitempty,max=5000"`
	Status          *string            `json:"status" validate:"omitempty,oneof=pending in_progress waiting_court completed archived"`
	CourtName       *string            `json:"court_name" validate:"omitempty,max=200"`
	FileNumber      *string            `json:"file_number" validate:"omitempty,max=100"`
	NextHearingDate *time.Time         `json:"next_hearing_date"`
	Stages          *[]casestate.Stage `json:"stages" validate:"omitempty,dive"`
}

type CaseListItem struct {
	ID              uuid.UUID         `json:"id"`
	CaseNumber      string            `json:"case_number"`
	Title           string            `json:"title"`
	Preview         string            `json:"preview"`
	CaseType        models.CaseType   `json:"case_type"`
	Status          models.CaseStatus `json:"status"`
	ClientID        uuid.UUID         `json:"client_id"`
	StartDate       time.Time         `json:"start_date"`
	NextHearingDate *time.Time        `json:"next_hearing_date,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

type Handler struct {
	db     *gorm.DB
	audit  *audit.Recorder
	notify *notify.Service
	policy casestate.TransitionPolicy
}

func NewHandler(db *gorm.DB, rec *audit.Recorder, ns *notify.Service, policy casestate.TransitionPolicy) *Handler {
	if policy == nil {
		policy = casestate.FreeForm{}
	}
	return &Handler{db: db, audit: rec, notify: ns, policy: policy}
}

// loadCase resolves :id with its stages. Existence is checked before any
// permission so callers report 404 before 403.
func (h *Handler) loadCase(c *fiber.Ctx) (*models.Case, error) {
	id, err := utils.ParamUUID(c, "id", "Case")
	if err != nil {
		return nil, err
	}
	var cs models.Case
	if err := h.db.WithContext(c.UserContext()).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&cs, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Case not found")
		}
		return nil, err
	}
	if cs.Stages == nil {
		cs.Stages = []models.CaseStage{}
	}
	return &cs, nil
}

/* ================================ Create ================================ */

// Create Case godoc
// @Summary      Create case
// @Description  Staff open a case for a client (client_id required); clients open their own
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateCaseRequest  true  "Case payload"
// @Success      201  {object}  models.Case
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "case number exists"
// @Router       /cases [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	actor := auth.MustActor(c)

	var in CreateCaseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	in.CaseNumber = strings.TrimSpace(in.CaseNumber)
	if err := validation.Check(in); err != nil {
		return err
	}

	stages := in.Stages
	if len(stages) == 0 {
		stages = casestate.DefaultStages(models.CaseType(in.CaseType))
	} else if err := casestate.ValidateStages(stages); err != nil {
		return err
	}

	ctx := c.UserContext()
	clientID := actor.ID
	if permissions.IsStaff(actor) {
		if in.ClientID == "" {
			return apperr.Field("client_id", "This field is required")
		}
		clientID = uuid.MustParse(in.ClientID)
		var n int64
		if err := h.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND role IN ?", clientID, models.ClientRoles).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.Field("client_id", "Client not found")
		}
	}

	status := models.CasePending
	if in.Status != "" && permissions.IsStaff(actor) {
		status = models.CaseStatus(in.Status)
	}
	start := time.Now().UTC()
	if in.StartDate != nil {
		start = in.StartDate.UTC()
	}

	cs := models.Case{
		CaseNumber:      in.CaseNumber,
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		CaseType:        models.CaseType(in.CaseType),
		Status:          status,
		CourtName:       in.CourtName,
		FileNumber:      in.FileNumber,
		ClientID:        clientID,
		StartDate:       start,
		NextHearingDate: in.NextHearingDate,
	}
	if status == models.CaseCompleted {
		cs.CompletionDate = &start
	}

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Case{}).Where("case_number = ?", cs.CaseNumber).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("Case number already exists")
		}
		if err := tx.Create(&cs).Error; err != nil {
			return err
		}
		rows := casestate.ToRows(stages, cs.ID)
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		cs.Stages = rows

		related := &notify.Related{Kind: "case", ID: cs.ID}
		if _, err := h.notify.NotifyUser(ctx, tx, cs.ClientID, notify.Message{
			Title:    "Case opened",
			Message:  fmt.Sprintf("Case %s (%s) has been opened.", cs.CaseNumber, cs.Title),
			Type:     models.NotifyCaseUpdate,
			Priority: models.PriorityHigh,
			CaseID:   &cs.ID,
			Related:  related,
		}); err != nil {
			return err
		}
		if !permissions.IsStaff(actor) {
			if _, err := h.notify.NotifyAllStaff(ctx, tx, notify.Message{
				Title:    "New case submitted",
				Message:  fmt.Sprintf("A client submitted case %s (%s).", cs.CaseNumber, cs.Title),
				Type:     models.NotifyCaseUpdate,
				Priority: models.PriorityMedium,
				CaseID:   &cs.ID,
				Related:  related,
			}); err != nil {
				return err
			}
		}

		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionCreate, Resource: audit.ResCase,
			ResourceID: audit.ID(cs.ID), Description: "Created case " + cs.CaseNumber,
			Meta: audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(cs)
}

/* ================================= List ================================= */

// List Cases godoc
// @Summary      List cases
// @Description  Clients see only their own cases; staff may filter by client, status and type
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        client_id  query string false "client id (staff only)"
// @Param        status     query string false "status"
// @Param        case_type  query string false "case type"
// @Param        search     query string false "title, case number or court name"
// @Param        page       query int    false "page"
// @Param        pageSize   query int    false "pageSize"
// @Success      200  {object}  models.Page[CaseListItem]
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases [get]
func (h *Handler) List(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	page, size := utils.ParsePage(c)
	ctx := c.UserContext()

	q := h.db.WithContext(ctx).Model(&models.Case{})
	if permissions.IsStaff(actor) {
		clientID, err := utils.QueryUUID(c, "client_id")
		if err != nil {
			return err
		}
		if clientID != nil {
			q = q.Where("client_id = ?", *clientID)
		}
	} else {
		// total must reflect this filter, not the whole table
		q = q.Where("client_id = ?", actor.ID)
	}
	if s := c.Query("status"); s != "" {
		if !models.CaseStatus(s).Valid() {
			return apperr.Field("status", "Value is not allowed")
		}
		q = q.Where("status = ?", s)
	}
	if t := c.Query("case_type"); t != "" {
		if !models.CaseType(t).Valid() {
			return apperr.Field("case_type", "Value is not allowed")
		}
		q = q.Where("case_type = ?", t)
	}
	if s := strings.ToLower(strings.TrimSpace(c.Query("search"))); s != "" {
		like := "%" + s + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(case_number) LIKE ? OR LOWER(court_name) LIKE ?", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	var list []models.Case
	if err := q.Order("created_at DESC").
		Offset(utils.Offset(page, size)).Limit(size).
		Find(&list).Error; err != nil {
		return err
	}

	items := make([]CaseListItem, 0, len(list))
	for _, cs := range list {
		items = append(items, CaseListItem{
			ID:              cs.ID,
			CaseNumber:      cs.CaseNumber,
			Title:           cs.Title,
			Preview:         sanitize.Summary(sanitize.RedactPII(cs.Description), 240),
			CaseType:        cs.CaseType,
			Status:          cs.Status,
			ClientID:        cs.ClientID,
			StartDate:       cs.StartDate,
			NextHearingDate: cs.NextHearingDate,
			CreatedAt:       cs.CreatedAt,
		})
	}

	if permissions.IsStaff(actor) {
		if _, err := h.audit.Record(ctx, nil, audit.Entry{
			Actor: actor, Action: audit.ActionView, Resource: audit.ResCaseList,
			Description: fmt.Sprintf("Viewed case list (%d results)", total),
			Meta:        audit.MetaFrom(c),
		}); err != nil {
			return err
		}
	}

	return c.JSON(models.Page[CaseListItem]{
		Page: page, PageSize: size, Total: total, Pages: utils.Pages(total, size), Items: items,
	})
}

/* ================================ Detail ================================ */

// Get Case godoc
// @Summary      Case detail
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "case id (uuid)"
// @Success      200  {object}  models.Case
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	cs, err := h.loadCase(c)
	if err != nil {
		return err
	}
	if !permissions.CanAccessCase(actor, cs) {
		return apperr.Forbidden("You do not have access to this case")
	}

	if _, err := h.audit.Record(c.UserContext(), nil, audit.Entry{
		Actor: actor, Action: audit.ActionView, Resource: audit.ResCase,
		ResourceID: audit.ID(cs.ID), Description: "Viewed case " + cs.CaseNumber,
		Meta: audit.MetaFrom(c),
	}); err != nil {
		return err
	}
	return c.JSON(cs)
}

/* ================================ Update ================================ */

// Update Case godoc
// @Summary      Update case
// @Description  Staff update status, dates, court details or replace the stage list
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string             true  "case id (uuid)"
// @Param        payload  body  UpdateCaseRequest  true  "Fields to change"
// @Success      200  {object}  models.Case
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [put]
func (h *Handler) Update(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	cs, err := h.loadCase(c)
	if err != nil {
		return err
	}
	if !permissions.CanModifyCase(actor) {
		return apperr.Forbidden("Only staff can modify cases")
	}

	var in UpdateCaseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if err := validation.Check(in); err != nil {
		return err
	}
	if in.Stages != nil {
		if err := casestate.ValidateStages(*in.Stages); err != nil {
			return err
		}
	}

	old := map[string]any{}
	updates := map[string]any{}
	setStr := func(col, oldV string, newV *string) {
		if newV != nil && *newV != oldV {
			old[col], updates[col] = oldV, strings.TrimSpace(*newV)
		}
	}
	setStr("title", cs.Title, in.Title)
	setStr("description", cs.Description, in.Description)
	setStr("court_name", cs.CourtName, in.CourtName)
	setStr("file_number", cs.FileNumber, in.FileNumber)
	if in.NextHearingDate != nil {
		old["next_hearing_date"], updates["next_hearing_date"] = cs.NextHearingDate, in.NextHearingDate.UTC()
	}

	statusChanged := false
	if in.Status != nil && models.CaseStatus(*in.Status) != cs.Status {
		to := models.CaseStatus(*in.Status)
		if err := h.policy.Check(cs.Status, to); err != nil {
			return err
		}
		old["status"], updates["status"] = cs.Status, to
		if to == models.CaseCompleted && cs.CompletionDate == nil {
			updates["completion_date"] = time.Now().UTC()
		}
		statusChanged = true
	}
	if in.Stages != nil {
		old["stages"], updates["stages"] = casestate.FromRows(cs.Stages), *in.Stages
	}

	if len(updates) == 0 {
		return c.JSON(cs)
	}

	ctx := c.UserContext()
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols := map[string]any{}
		for k, v := range updates {
			if k != "stages" {
				cols[k] = v
			}
		}
		if len(cols) > 0 {
			if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).Updates(cols).Error; err != nil {
				return err
			}
		}
		if in.Stages != nil {
			if err := tx.Where("case_id = ?", cs.ID).Delete(&models.CaseStage{}).Error; err != nil {
				return err
			}
			if rows := casestate.ToRows(*in.Stages, cs.ID); len(rows) > 0 {
				if err := tx.Create(&rows).Error; err != nil {
					return err
				}
			}
		}

		if statusChanged {
			if _, err := h.notify.NotifyUser(ctx, tx, cs.ClientID, notify.Message{
				Title:    "Case status updated",
				Message:  fmt.Sprintf("Case %s is now %s.", cs.CaseNumber, updates["status"]),
				Type:     models.NotifyCaseUpdate,
				Priority: models.PriorityMedium,
				CaseID:   &cs.ID,
				Related:  &notify.Related{Kind: "case", ID: cs.ID},
			}); err != nil {
				return err
			}
		}

		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionUpdate, Resource: audit.ResCase,
			ResourceID: audit.ID(cs.ID), Description: "Updated case " + cs.CaseNumber,
			Changes: audit.Changes(old, updates), Meta: audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}

	fresh, err := h.loadCase(c)
	if err != nil {
		return err
	}
	return c.JSON(fresh)
}

/* ================================ Delete ================================ */

// Delete Case godoc
// @Summary      Delete case
// @Description  Admin only. Stages and timeline are removed; documents, payments and notifications are detached.
// @Tags         cases
// @Security     BearerAuth
// @Param        id   path string true "case id (uuid)"
// @Success      204
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	cs, err := h.loadCase(c)
	if err != nil {
		return err
	}
	if !permissions.CanDeleteCase(actor) {
		return apperr.Forbidden("Only admins can delete cases")
	}

	ctx := c.UserContext()
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("case_id = ?", cs.ID).Delete(&models.CaseStage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("case_id = ?", cs.ID).Delete(&models.TimelineEvent{}).Error; err != nil {
			return err
		}
		for _, m := range []any{&models.Document{}, &models.Payment{}, &models.Notification{}} {
			if err := tx.Model(m).Where("case_id = ?", cs.ID).Update("case_id", nil).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&models.Case{}, "id = ?", cs.ID).Error; err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionDelete, Resource: audit.ResCase,
			ResourceID: audit.ID(cs.ID), Description: "Deleted case " + cs.CaseNumber,
			Changes: map[string]any{"old": map[string]any{
				"case_number": cs.CaseNumber, "title": cs.Title, "status": cs.Status, "client_id": cs.ClientID,
			}},
			Meta: audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
