package clients

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/lexdesk/portal-backend/pkg/sanitize"
	"github.com/lexdesk/portal-backend/pkg/utils"
	"github.com/lexdesk/portal-backend/pkg/validation"
)

// ===== DTOs =====

type CreateClientRequest struct {
	Role            string `json:"role" validate:"required,oneof=individual corporate"`
	FullName        string `json:"full_name" validate:"required,min=2,max=120"`
	Email           string `json:"email" validate:"omitempty,email,max=120"`
	Phone           string `json:"phone" validate:"max=30"`
	NationalID      string `json:"national_id" validate:"required_if=Role individual,nationalid"`
	TaxNumber       string `json:"tax_number" validate:"required_if=Role corporate,taxnumber"`
	CompanyName     string `json:"company_name" validate:"required_if=Role corporate,max=160"`
	Address         string `json:"address" validate:"max=500"`
	BankAccountInfo string `json:"bank_account_info" validate:"max=200"`
}

type CreateClientResponse struct {
	User         models.User `json:"user"`
	TempPassword string      `json:"temp_password"`
}

type UpdateClientRequest struct {
	FullName        *string `json:"full_name" validate:"omitnil,min=2,max=120"`
	Email           *string `json:"email" validate:"omitnil,email,max=120"`
	Phone           *string `json:"phone" validate:"omitempty,max=30"`
	NationalID      *string `json:"national_id" validate:"omitempty,nationalid"`
	TaxNumber       *string `json:"tax_number" validate:"omitempty,taxnumber"`
	CompanyName     *string `json:"company_name" validate:"omitempty,max=160"`
	Address         *string `json:"address" validate:"omitempty,max=500"`
	BankAccountInfo *string `json:"bank_account_info" validate:"omitempty,max=200"`
}

type SetRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=individual corporate lawyer admin"`
}

type SetActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// ClientListItem is the list projection; identity fields are masked for lawyers.
type ClientListItem struct {
	ID          uuid.UUID   `json:"id"`
	Role        models.Role `json:"role"`
	FullName    string      `json:"full_name"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone,omitempty"`
	NationalID  string      `json:"national_id,omitempty"`
	TaxNumber   string      `json:"tax_number,omitempty"`
	CompanyName string      `json:"company_name,omitempty"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
}

type ClientDetail struct {
	models.User
	CaseCount       int64 `json:"case_count"`
	DocumentCount   int64 `json:"document_count"`
	PendingPayments int64 `json:"pending_payments"`
}

type Statistics struct {
	TotalClients    int64 `json:"total_clients"`
	TotalCases      int64 `json:"total_cases"`
	ActiveCases     int64 `json:"active_cases"`
	TotalDocuments  int64 `json:"total_documents"`
	PendingPayments int64 `json:"pending_payments"`
}

type Handler struct {
	db            *gorm.DB
	audit         *audit.Recorder
	noEmailDomain string
}

func NewHandler(db *gorm.DB, rec *audit.Recorder, noEmailDomain string) *Handler {
	return &Handler{db: db, audit: rec, noEmailDomain: noEmailDomain}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func project(u models.User, masked bool) ClientListItem {
	item := ClientListItem{
		ID: u.ID, Role: u.Role, FullName: u.FullName, Email: u.Email, Phone: u.Phone,
		NationalID: deref(u.NationalID), TaxNumber: deref(u.TaxNumber),
		CompanyName: u.CompanyName, IsActive: u.IsActive, CreatedAt: u.CreatedAt,
	}
	if masked {
		item.Email = sanitize.MaskEmail(item.Email)
		item.Phone = sanitize.MaskPhone(item.Phone)
		item.NationalID = sanitize.MaskNationalID(item.NationalID)
		item.TaxNumber = sanitize.MaskNationalID(item.TaxNumber)
	}
	return item
}

func (h *Handler) loadClient(c *fiber.Ctx) (*models.User, error) {
	id, err := utils.ParamUUID(c, "id", "Client")
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := h.db.WithContext(c.UserContext()).
		Where("role IN ?", models.ClientRoles).
		First(&u, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Client not found")
		}
		return nil, err
	}
	return &u, nil
}

/* ================================ List ================================== */

// List Clients godoc
// @Summary      List clients
// @Description  Staff list clients with search and type filter; lawyers see masked identifiers
// @Tags         clients
// @Security     BearerAuth
// @Produce      json
// @Param        search    query string false "name, email, national id, tax number or company"
// @Param        type      query string false "individual | corporate"
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Success      200  {object}  models.Page[ClientListItem]
// @Failure      403  {object}  models.ErrorResponse
// @Router       /admin/clients [get]
func (h *Handler) List(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	if !permissions.CanViewAllClients(actor) {
		return apperr.Forbidden("Forbidden")
	}
	page, size := utils.ParsePage(c)
	ctx := c.UserContext()

	q := h.db.WithContext(ctx).Model(&models.User{}).Where("role IN ?", models.ClientRoles)
	if t := c.Query("type"); t != "" {
		if t != string(models.RoleIndividual) && t != string(models.RoleCorporate) {
			return apperr.Field("type", "Value is not allowed")
		}
		q = q.Where("role = ?", t)
	}
	if s := strings.ToLower(strings.TrimSpace(c.Query("search"))); s != "" {
		like := "%" + s + "%"
		q = q.Where(`LOWER(full_name) LIKE ? OR LOWER(email) LIKE ? OR national_id LIKE ?
			OR tax_number LIKE ? OR LOWER(company_name) LIKE ?`, like, like, like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	var rows []models.User
	if err := q.Order("created_at DESC").
		Offset(utils.Offset(page, size)).Limit(size).
		Find(&rows).Error; err != nil {
		return err
	}

	masked := !permissions.SeesUnmaskedPII(actor)
	items := make([]ClientListItem, 0, len(rows))
	for _, u := range rows {
		items = append(items, project(u, masked))
	}

	if _, err := h.audit.Record(ctx, nil, audit.Entry{
		Actor: actor, Action: audit.ActionView, Resource: audit.ResClientList,
		Description: fmt.Sprintf("Viewed client list (%d results)", total),
		Meta:        audit.MetaFrom(c),
	}); err != nil {
		return err
	}

	return c.JSON(models.Page[ClientListItem]{
		Page: page, PageSize: size, Total: total, Pages: utils.Pages(total, size), Items: items,
	})
}

/* =============================== Detail ================================= */

// Client Detail godoc
// @Summary      Client detail
// @Tags         clients
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "client id (uuid)"
// @Success      200  {object}  ClientDetail
// @Failure      404  {object}  models.ErrorResponse
// @Router       /admin/clients/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	u, err := h.loadClient(c)
	if err != nil {
		return err
	}
	if !permissions.CanViewAllClients(actor) {
		return apperr.Forbidden("Forbidden")
	}

	ctx := c.UserContext()
	out := ClientDetail{User: *u}
	db := h.db.WithContext(ctx)
	if err := db.Model(&models.Case{}).Where("client_id = ?", u.ID).Count(&out.CaseCount).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Document{}).Where("user_id = ?", u.ID).Count(&out.DocumentCount).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Payment{}).Where("client_id = ? AND status = ?", u.ID, models.PayPending).
		Count(&out.PendingPayments).Error; err != nil {
		return err
	}

	if _, err := h.audit.Record(ctx, nil, audit.Entry{
		Actor: actor, Action: audit.ActionView, Resource: audit.ResClient,
		ResourceID: audit.ID(u.ID), Description: "Viewed client " + u.FullName,
		Meta: audit.MetaFrom(c),
	}); err != nil {
		return err
	}
	return c.JSON(out)
}

/* =============================== Create ================================= */

// Create Client godoc
// @Summary      Create client
// @Description  Staff create a client account; the response carries a one-time temporary password
// @Tags         clients
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateClientRequest  true  "Client payload"
// @Success      201  {object}  CreateClientResponse
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /admin/clients [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	if !permissions.CanCreateClient(actor) {
		return apperr.Forbidden("Forbidden")
	}

	var in CreateClientRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.NationalID = strings.TrimSpace(in.NationalID)
	in.TaxNumber = strings.TrimSpace(in.TaxNumber)
	if err := validation.Check(in); err != nil {
		return err
	}

	ctx := c.UserContext()
	if err := auth.CheckIdentityUnique(ctx, h.db, auth.Identity{
		Email: in.Email, NationalID: in.NationalID, TaxNumber: in.TaxNumber,
	}); err != nil {
		return err
	}

	tempPassword, err := auth.GenerateTempPassword(8)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	var u models.User
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		email := in.Email
		if email == "" {
			synth, err := h.synthesizeEmail(tx, in.NationalID, in.TaxNumber)
			if err != nil {
				return err
			}
			email = synth
		}
		u = models.User{
			Email:              email,
			PasswordHash:       string(hash),
			FullName:           strings.TrimSpace(in.FullName),
			Phone:              in.Phone,
			NationalID:         auth.StrPtr(in.NationalID),
			TaxNumber:          auth.StrPtr(in.TaxNumber),
			CompanyName:        in.CompanyName,
			Address:            in.Address,
			BankAccountInfo:    in.BankAccountInfo,
			Role:               models.Role(in.Role),
			IsActive:           true,
			IsVerified:         true,
			MustChangePassword: true,
		}
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionCreate, Resource: audit.ResClient,
			ResourceID: audit.ID(u.ID), Description: "Created client " + u.FullName,
			Meta: audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(CreateClientResponse{User: u, TempPassword: tempPassword})
}

// synthesizeEmail builds no-email-<id>@domain for clients without an email,
// adding a random suffix until the address is free.
func (h *Handler) synthesizeEmail(tx *gorm.DB, nationalID, taxNumber string) (string, error) {
	base := nationalID
	if base == "" {
		base = taxNumber
	}
	if base == "" {
		base = randomHex(4)
	}
	candidate := fmt.Sprintf("no-email-%s@%s", base, h.noEmailDomain)
	for {
		var n int64
		if err := tx.Model(&models.User{}).Where("email = ?", candidate).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("no-email-%s-%s@%s", base, randomHex(4), h.noEmailDomain)
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

/* =============================== Update ================================= */

// Update Client godoc
// @Summary      Update client profile
// @Tags         clients
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string               true  "client id (uuid)"
// @Param        payload  body  UpdateClientRequest  true  "Fields to change"
// @Success      200  {object}  models.User
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /admin/clients/{id} [put]
func (h *Handler) Update(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	u, err := h.loadClient(c)
	if err != nil {
		return err
	}
	if !permissions.CanViewAllClients(actor) {
		return apperr.Forbidden("Forbidden")
	}

	var in UpdateClientRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if err := validation.Check(in); err != nil {
		return err
	}

	ctx := c.UserContext()
	ident := auth.Identity{ExceptID: &u.ID}
	updates := map[string]any{}
	old := map[string]any{}
	set := func(col string, oldV any, newV *string) {
		if newV != nil {
			updates[col] = strings.TrimSpace(*newV)
			old[col] = oldV
		}
	}
	// a sent full_name or email must stay non-blank; identities may be cleared
	if in.FullName != nil && strings.TrimSpace(*in.FullName) == "" {
		return apperr.Field("full_name", "Full name cannot be empty")
	}
	if in.Email != nil && strings.TrimSpace(*in.Email) == "" {
		return apperr.Field("email", "Email cannot be empty")
	}
	set("full_name", u.FullName, in.FullName)
	set("phone", u.Phone, in.Phone)
	set("company_name", u.CompanyName, in.CompanyName)
	set("address", u.Address, in.Address)
	set("bank_account_info", u.BankAccountInfo, in.BankAccountInfo)
	if in.Email != nil {
		ident.Email = strings.ToLower(strings.TrimSpace(*in.Email))
		updates["email"], old["email"] = ident.Email, u.Email
	}
	if in.NationalID != nil {
		ident.NationalID = strings.TrimSpace(*in.NationalID)
		updates["national_id"], old["national_id"] = auth.StrPtr(ident.NationalID), deref(u.NationalID)
	}
	if in.TaxNumber != nil {
		ident.TaxNumber = strings.TrimSpace(*in.TaxNumber)
		updates["tax_number"], old["tax_number"] = auth.StrPtr(ident.TaxNumber), deref(u.TaxNumber)
	}
	if len(updates) == 0 {
		return c.JSON(u)
	}
	if err := auth.CheckIdentityUnique(ctx, h.db, ident); err != nil {
		return err
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).Updates(updates).Error; err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionUpdate, Resource: audit.ResClient,
			ResourceID: audit.ID(u.ID), Description: "Updated client " + u.FullName,
			Changes: audit.Changes(old, updates), Meta: audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}
	if err := h.db.WithContext(ctx).First(u, "id = ?", u.ID).Error; err != nil {
		return err
	}
	return c.JSON(u)
}

/* ============================ Role / Active ============================= */

func (h *Handler) loadUser(c *fiber.Ctx) (*models.User, error) {
	id, err := utils.ParamUUID(c, "id", "User")
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := h.db.WithContext(c.UserContext()).First(&u, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("User not found")
		}
		return nil, err
	}
	return &u, nil
}

// Set Role godoc
// @Summary      Change a user's role
// @Description  Admin only
// @Tags         clients
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string          true  "user id (uuid)"
// @Param        payload  body  SetRoleRequest  true  "New role"
// @Success      200  {object}  models.User
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /admin/clients/{id}/role [put]
func (h *Handler) SetRole(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}
	if !permissions.CanChangeRole(actor) {
		return apperr.Forbidden("Only admins can change roles")
	}

	var in SetRoleRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if err := validation.Check(in); err != nil {
		return err
	}
	if u.ID == actor.ID {
		return apperr.Validation("You cannot change your own role")
	}

	return h.applyUserChange(c, actor, u, "role", u.Role, models.Role(in.Role), "Changed role of "+u.FullName)
}

// Set Active godoc
// @Summary      Activate or deactivate a user
// @Tags         clients
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string            true  "user id (uuid)"
// @Param        payload  body  SetActiveRequest  true  "Activation flag"
// @Success      200  {object}  models.User
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /admin/clients/{id}/active [put]
func (h *Handler) SetActive(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}
	if !permissions.CanChangeActivity(actor) {
		return apperr.Forbidden("Forbidden")
	}
	// lawyers manage clients only; staff accounts are an admin matter
	if u.Role.IsStaff() && !permissions.IsAdmin(actor) {
		return apperr.Forbidden("Only admins can change staff accounts")
	}

	var in SetActiveRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if err := validation.Check(in); err != nil {
		return err
	}
	if u.ID == actor.ID && !*in.IsActive {
		return apperr.Validation("You cannot deactivate your own account")
	}

	return h.applyUserChange(c, actor, u, "is_active", u.IsActive, *in.IsActive, "Changed activation of "+u.FullName)
}

func (h *Handler) applyUserChange(c *fiber.Ctx, actor permissions.Actor, u *models.User, col string, oldV, newV any, desc string) error {
	ctx := c.UserContext()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).Update(col, newV).Error; err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionUpdate, Resource: audit.ResUser,
			ResourceID: audit.ID(u.ID), Description: desc,
			Changes: audit.Changes(map[string]any{col: oldV}, map[string]any{col: newV}),
			Meta:    audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}
	if err := h.db.WithContext(ctx).First(u, "id = ?", u.ID).Error; err != nil {
		return err
	}
	return c.JSON(u)
}

/* ============================= Statistics =============================== */

// Statistics godoc
// @Summary      Office statistics
// @Tags         clients
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  Statistics
// @Failure      403  {object}  models.ErrorResponse
// @Router       /admin/statistics [get]
func (h *Handler) Statistics(c *fiber.Ctx) error {
	if !permissions.CanViewStatistics(auth.MustActor(c)) {
		return apperr.Forbidden("Forbidden")
	}
	db := h.db.WithContext(c.UserContext())

	var s Statistics
	counts := []struct {
		dst   *int64
		model any
		where []any
	}{
		{&s.TotalClients, &models.User{}, []any{"role IN ?", models.ClientRoles}},
		{&s.TotalCases, &models.Case{}, nil},
		{&s.ActiveCases, &models.Case{}, []any{"status IN ?", []models.CaseStatus{models.CaseInProgress, models.CaseWaitingCourt}}},
		{&s.TotalDocuments, &models.Document{}, nil},
		{&s.PendingPayments, &models.Payment{}, []any{"status = ?", models.PayPending}},
	}
	for _, ct := range counts {
		q := db.Model(ct.model)
		if len(ct.where) > 0 {
			q = q.Where(ct.where[0], ct.where[1:]...)
		}
		if err := q.Count(ct.dst).Error; err != nil {
			return err
		}
	}
	return c.JSON(s)
}
