package payments

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/metrics"
	"github.com/lexdesk/portal-backend/internal/notify"
	"github.com/lexdesk/portal-backend/internal/paymentgw"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/lexdesk/portal-backend/pkg/utils"
	"github.com/lexdesk/portal-backend/pkg/validation"
)

const defaultCurrency = "TRY"

// ===== DTOs =====

type CreatePaymentRequest struct {
	ClientID    string `json:"client_id" validate:"required,uuid"`
	CaseID      string `json:"case_id" validate:"omitempty,uuid"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
	Description string `json:"description" validate:"required,max=1000"`
	Method      string `json:"method" validate:"omitempty,oneof=credit_card bank_transfer cash"`
}

type UpdatePaymentRequest struct {
	AmountCents *int64  `json:"amount_cents" validate:"omitempty,gt=0"`
	Status      *string `json:"status" validate:"omitempty,oneof=pending completed failed refunded"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	Method      *string `json:"method" validate:"omitempty,oneof=credit_card bank_transfer cash"`
}

type ChargeRequest struct {
	// PaymentMethod is the processor token, e.g. pm_card_visa.
	PaymentMethod string `json:"payment_method" validate:"required,max=255"`
}

type ChargeResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Payment models.Payment `json:"payment"`
}

type Handler struct {
	db        *gorm.DB
	audit     *audit.Recorder
	notify    *notify.Service
	processor paymentgw.Processor
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewHandler(db *gorm.DB, rec *audit.Recorder, ns *notify.Service, p paymentgw.Processor, m *metrics.Metrics, log *slog.Logger) *Handler {
	if p == nil {
		p = paymentgw.Mock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{db: db, audit: rec, notify: ns, processor: p, metrics: m, log: log}
}

// NewReference returns PAY- followed by 12 upper-case hex characters.
func NewReference() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "PAY-" + strings.ToUpper(hex[:12])
}

func (h *Handler) loadPayment(c *fiber.Ctx) (*models.Payment, error) {
	id, err := utils.ParamUUID(c, "id", "Payment")
	if err != nil {
		return nil, err
	}
	var p models.Payment
	if err := h.db.WithContext(c.UserContext()).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Payment not found")
		}
		return nil, err
	}
	return &p, nil
}

func snapshot(p *models.Payment) map[string]any {
	return map[string]any{
		"amount_cents": p.AmountCents,
		"status":       p.Status,
		"description":  p.Description,
	}
}

func statusMessage(p *models.Payment) notify.Message {
	title, prio := "Payment updated", models.PriorityMedium
	switch p.Status {
	case models.PayCompleted:
		title = "Payment received"
	case models.PayFailed:
		title, prio = "Payment failed", models.PriorityHigh
	case models.PayRefunded:
		title = "Payment refunded"
	}
	return notify.Message{
		Title:    title,
		Message:  fmt.Sprintf("Payment %s (%s) is now %s.", p.Reference, formatAmount(p), p.Status),
		Type:     models.NotifyPaymentUpdate,
		Priority: prio,
		CaseID:   p.CaseID,
		Related:  &notify.Related{Kind: "payment", ID: p.ID, CaseID: p.CaseID},
	}
}

func formatAmount(p *models.Payment) string {
	return fmt.Sprintf("%d.%02d %s", p.AmountCents/100, p.AmountCents%100, p.Currency)
}

/* ================================ Create ================================ */

// Create Payment godoc
// @Summary      Create payment request
// @Description  Staff only. case_id, when given, must belong to client_id.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreatePaymentRequest  true  "Payment"
// @Success      201  {object}  models.Payment
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Router       /payments [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	if !permissions.CanManagePayments(actor) {
		return apperr.Forbidden("Only staff can create payments")
	}

	var in CreatePaymentRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if err := validation.Check(in); err != nil {
		return err
	}

	ctx := c.UserContext()
	clientID := uuid.MustParse(in.ClientID)
	var client models.User
	if err := h.db.WithContext(ctx).
		Where("id = ? AND role IN ?", clientID, models.ClientRoles).
		First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Field("client_id", "Client not found")
		}
		return err
	}

	var caseID *uuid.UUID
	if in.CaseID != "" {
		id := uuid.MustParse(in.CaseID)
		var n int64
		if err := h.db.WithContext(ctx).Model(&models.Case{}).
			Where("id = ? AND client_id = ?", id, clientID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.Field("case_id", "Case does not belong to this client")
		}
		caseID = &id
	}

	currency := defaultCurrency
	if in.Currency != "" {
		currency = strings.ToUpper(in.Currency)
	}
	p := models.Payment{
		Reference:   NewReference(),
		AmountCents: in.AmountCents,
		Currency:    currency,
		Description: strings.TrimSpace(in.Description),
		Status:      models.PayPending,
		ClientID:    clientID,
		CaseID:      caseID,
		CreatedByID: actor.ID,
	}
	if in.Method != "" {
		m := models.PaymentMethod(in.Method)
		p.Method = &m
	}

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		if _, err := h.notify.NotifyUser(ctx, tx, clientID, notify.Message{
			Title:    "New payment request",
			Message:  fmt.Sprintf("A payment of %s was requested: %s", formatAmount(&p), p.Description),
			Type:     models.NotifyPaymentUpdate,
			Priority: models.PriorityHigh,
			CaseID:   caseID,
			Related:  &notify.Related{Kind: "payment", ID: p.ID, CaseID: caseID},
		}); err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionCreate, Resource: audit.ResPayment,
			ResourceID: audit.ID(p.ID), Description: "Created payment " + p.Reference,
			Changes: map[string]any{"new": snapshot(&p)},
			Meta:    audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

/* ================================= Lists ================================ */

func (h *Handler) page(c *fiber.Ctx, q *gorm.DB) error {
	page, size := utils.ParsePage(c)
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	caseID, err := utils.QueryUUID(c, "case_id")
	if err != nil {
		return err
	}
	if caseID != nil {
		q = q.Where("case_id = ?", *caseID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	items := []models.Payment{}
	if err := q.Order("created_at DESC").
		Offset(utils.Offset(page, size)).Limit(size).
		Find(&items).Error; err != nil {
		return err
	}
	return c.JSON(models.Page[models.Payment]{
		Page: page, PageSize: size, Total: total, Pages: utils.Pages(total, size), Items: items,
	})
}

// List Payments godoc
// @Summary      All payments
// @Description  Staff only
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        client_id  query string false "client id"
// @Param        case_id    query string false "case id"
// @Param        status     query string false "pending|completed|failed|refunded"
// @Param        page       query int    false "page"
// @Param        pageSize   query int    false "pageSize"
// @Success      200  {object}  models.Page[models.Payment]
// @Failure      403  {object}  models.ErrorResponse
// @Router       /payments [get]
func (h *Handler) List(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	if !permissions.CanManagePayments(actor) {
		return apperr.Forbidden("Only staff can list all payments")
	}
	q := h.db.WithContext(c.UserContext()).Model(&models.Payment{})
	clientID, err := utils.QueryUUID(c, "client_id")
	if err != nil {
		return err
	}
	if clientID != nil {
		q = q.Where("client_id = ?", *clientID)
	}
	return h.page(c, q)
}

// My Payments godoc
// @Summary      My payments
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        status    query string false "status"
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Success      200  {object}  models.Page[models.Payment]
// @Router       /payments/mine [get]
func (h *Handler) Mine(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	q := h.db.WithContext(c.UserContext()).Model(&models.Payment{}).Where("client_id = ?", actor.ID)
	return h.page(c, q)
}

// Get Payment godoc
// @Summary      Payment detail
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "payment id (uuid)"
// @Success      200  {object}  models.Payment
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /payments/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := h.loadPayment(c)
	if err != nil {
		return err
	}
	if !permissions.CanAccessPayment(auth.MustActor(c), p) {
		return apperr.Forbidden("You do not have access to this payment")
	}
	return c.JSON(p)
}

/* ================================ Update ================================ */

// Update Payment godoc
// @Summary      Update payment
// @Description  Staff only. completed_at is stamped the first time status becomes completed.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                true  "payment id (uuid)"
// @Param        payload  body  UpdatePaymentRequest  true  "Fields to change"
// @Success      200  {object}  models.Payment
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /payments/{id} [put]
func (h *Handler) Update(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	p, err := h.loadPayment(c)
	if err != nil {
		return err
	}
	if !permissions.CanManagePayments(actor) {
		return apperr.Forbidden("Only staff can update payments")
	}

	var in UpdatePaymentRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if err := validation.Check(in); err != nil {
		return err
	}

	old := snapshot(p)
	oldStatus := p.Status
	updates := map[string]any{}
	if in.AmountCents != nil {
		p.AmountCents = *in.AmountCents
		updates["amount_cents"] = p.AmountCents
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
		updates["description"] = p.Description
	}
	if in.Method != nil {
		m := models.PaymentMethod(*in.Method)
		p.Method = &m
		updates["method"] = m
	}
	if in.Status != nil {
		p.Status = models.PaymentStatus(*in.Status)
		updates["status"] = p.Status
		if p.Status == models.PayCompleted && p.CompletedAt == nil {
			now := time.Now().UTC()
			p.CompletedAt = &now
			updates["completed_at"] = now
		}
	}
	if len(updates) == 0 {
		return c.JSON(p)
	}

	ctx := c.UserContext()
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Payment{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return err
		}
		if p.Status != oldStatus {
			if _, err := h.notify.NotifyUser(ctx, tx, p.ClientID, statusMessage(p)); err != nil {
				return err
			}
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionUpdate, Resource: audit.ResPayment,
			ResourceID: audit.ID(p.ID), Description: "Updated payment " + p.Reference,
			Changes: audit.Changes(old, snapshot(p)),
			Meta:    audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(p)
}

/* ================================ Delete ================================ */

// Delete Payment godoc
// @Summary      Delete payment
// @Tags         payments
// @Security     BearerAuth
// @Param        id   path string true "payment id (uuid)"
// @Success      204
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /payments/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	p, err := h.loadPayment(c)
	if err != nil {
		return err
	}
	if !permissions.CanDeletePayment(actor) {
		return apperr.Forbidden("Only staff can delete payments")
	}

	ctx := c.UserContext()
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Payment{}, "id = ?", p.ID).Error; err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionDelete, Resource: audit.ResPayment,
			ResourceID: audit.ID(p.ID), Description: "Deleted payment " + p.Reference,
			Changes: map[string]any{"old": snapshot(p)},
			Meta:    audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

/* ================================ Charge ================================ */

// Charge Payment godoc
// @Summary      Pay a payment request
// @Description  Owner client or staff. Only pending or failed payments can be charged.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "payment id (uuid)"
// @Param        payload  body  ChargeRequest  true  "Payment method token"
// @Success      200  {object}  ChargeResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "already settled"
// @Failure      502  {object}  models.ErrorResponse  "processor unavailable"
// @Router       /payments/{id}/charge [post]
func (h *Handler) Charge(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	p, err := h.loadPayment(c)
	if err != nil {
		return err
	}
	if !permissions.CanAccessPayment(actor, p) {
		return apperr.Forbidden("You do not have access to this payment")
	}
	if p.Status != models.PayPending && p.Status != models.PayFailed {
		return apperr.Conflict(fmt.Sprintf("Payment is already %s", p.Status))
	}

	var in ChargeRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if err := validation.Check(in); err != nil {
		return err
	}

	ctx := c.UserContext()
	var payer models.User
	if err := h.db.WithContext(ctx).First(&payer, "id = ?", p.ClientID).Error; err != nil {
		return err
	}

	// The processor call stays outside the transaction.
	res, err := h.processor.Charge(ctx, paymentgw.ChargeRequest{
		Reference:   p.Reference,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		Description: p.Description,
		PayerEmail:  payer.Email,
		PayerName:   payer.FullName,
		Instrument:  in.PaymentMethod,
		// updated_at moves on every decline and edit
		IdempotencyKey: paymentgw.AttemptKey(p.Reference, p.UpdatedAt),
	})
	if err != nil {
		h.metrics.Charge(h.processor.Name(), "error")
		h.log.Error("payment processor call failed", "payment_id", p.ID, "provider", h.processor.Name(), "error", err)
		return fiber.NewError(fiber.StatusBadGateway, "payment processor unavailable")
	}
	h.metrics.Charge(h.processor.Name(), string(res.Status))

	old := snapshot(p)
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cur, "id = ?", p.ID).Error; err != nil {
			return err
		}
		if cur.Status != models.PayPending && cur.Status != models.PayFailed {
			return apperr.Conflict(fmt.Sprintf("Payment is already %s", cur.Status))
		}

		method := models.MethodCreditCard
		updates := map[string]any{
			"status":            res.Status,
			"provider_response": res.Raw,
			"method":            method,
		}
		p.Status, p.ProviderResponse, p.Method = res.Status, res.Raw, &method
		if res.ExternalID != "" {
			ext := res.ExternalID
			updates["external_id"] = ext
			p.ExternalID = &ext
		}
		if res.Status == models.PayCompleted && cur.CompletedAt == nil {
			now := time.Now().UTC()
			updates["completed_at"] = now
			p.CompletedAt = &now
		}
		if err := tx.Model(&models.Payment{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return err
		}

		if _, err := h.notify.NotifyUser(ctx, tx, p.ClientID, statusMessage(p)); err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionUpdate, Resource: audit.ResPayment,
			ResourceID:  audit.ID(p.ID),
			Description: fmt.Sprintf("Charged payment %s via %s: %s", p.Reference, h.processor.Name(), res.Status),
			Changes:     audit.Changes(old, snapshot(p)),
			Meta:        audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(ChargeResponse{Success: res.Success, Message: res.Message, Payment: *p})
}
