package auth

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/lexdesk/portal-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

// Request body for /auth/register
type RegisterRequest struct {
	Role        string `json:"role" validate:"required,oneof=individual corporate"`
	FullName    string `json:"full_name" validate:"required,min=2,max=120"`
	Email       string `json:"email" validate:"required,email,max=120"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Phone       string `json:"phone" validate:"omitempty,max=30"`
	NationalID  string `json:"national_id" validate:"required_if=Role individual,nationalid"`
	TaxNumber   string `json:"tax_number" validate:"required_if=Role corporate,taxnumber"`
	CompanyName string `json:"company_name" validate:"required_if=Role corporate,max=160"`
	Address     string `json:"address" validate:"max=500"`
}

// Request body for /auth/login.
// Username is an email when it contains "@", otherwise a national ID or tax number.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=120"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code" validate:"omitempty,len=6,numeric"`
}

// Standard auth response
type AuthResponse struct {
	Token              string      `json:"token"`
	TokenType          string      `json:"token_type"`
	Role               models.Role `json:"role"`
	MustChangePassword bool        `json:"must_change_password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

// Profile fields a user may edit on themselves.
type UpdateMeRequest struct {
	FullName        *string `json:"full_name" validate:"omitnil,min=2,max=120"`
	Phone           *string `json:"phone" validate:"omitempty,max=30"`
	CompanyName     *string `json:"company_name" validate:"omitempty,max=160"`
	Address         *string `json:"address" validate:"omitempty,max=500"`
	BankAccountInfo *string `json:"bank_account_info" validate:"omitempty,max=200"`
}

/* ============================== Handler ================================= */

type Handler struct {
	db         *gorm.DB
	tokens     *Tokens
	audit      *audit.Recorder
	log        *slog.Logger
	totpIssuer string
}

func NewHandler(db *gorm.DB, tokens *Tokens, rec *audit.Recorder, log *slog.Logger, totpIssuer string) *Handler {
	return &Handler{db: db, tokens: tokens, audit: rec, log: log, totpIssuer: totpIssuer}
}

func (h *Handler) respondWithToken(c *fiber.Ctx, status int, u *models.User) error {
	token, err := h.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return err
	}
	return c.Status(status).JSON(AuthResponse{
		Token:              token,
		TokenType:          "bearer",
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
	})
}

/* ============================== Register ================================ */

// @Summary      Register
// @Description  Self-registration of an individual or corporate client
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  RegisterRequest  true  "Register payload"
// @Success      201      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      409      {object}  models.ErrorResponse  "identifier already registered"
// @Router       /auth/register [post]
func (h *Handler) Register(c *fiber.Ctx) error {
	var in RegisterRequest
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
	if err := CheckIdentityUnique(ctx, h.db, Identity{Email: in.Email, NationalID: in.NationalID, TaxNumber: in.TaxNumber}); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	u := models.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(in.FullName),
		Phone:        in.Phone,
		NationalID:   StrPtr(in.NationalID),
		TaxNumber:    StrPtr(in.TaxNumber),
		CompanyName:  in.CompanyName,
		Address:      in.Address,
		Role:         models.Role(in.Role),
		IsActive:     true,
	}
	if err := h.db.WithContext(ctx).Create(&u).Error; err != nil {
		return err // unique index backstop maps to 409
	}

	return h.respondWithToken(c, fiber.StatusCreated, &u)
}

/* ================================ Login ================================= */

// @Summary      Login
// @Description  Authenticate with email, national ID or tax number and receive a JWT
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  LoginRequest  true  "Login payload"
// @Success      200      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      401      {object}  models.ErrorResponse
// @Failure      403      {object}  models.ErrorResponse  "account inactive"
// @Router       /auth/login [post]
func (h *Handler) Login(c *fiber.Ctx) error {
	var in LoginRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	in.Username = strings.TrimSpace(in.Username)
	if err := validation.Check(in); err != nil {
		return err
	}

	ctx := c.UserContext()
	q := h.db.WithContext(ctx)
	if strings.Contains(in.Username, "@") {
		q = q.Where("email = ?", strings.ToLower(in.Username))
	} else {
		q = q.Where("national_id = ? OR tax_number = ?", in.Username, in.Username)
	}

	var u models.User
	if err := q.First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Unauthenticated("Invalid credentials")
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return apperr.Unauthenticated("Invalid credentials")
	}
	if !u.IsActive {
		return apperr.Forbidden("Account is inactive")
	}
	if u.Is2FAEnabled {
		if in.TOTPCode == "" {
			return apperr.Unauthenticated("Two-factor code required")
		}
		if !validateTOTP(in.TOTPCode, u.TOTPSecret) {
			return apperr.Unauthenticated("Invalid two-factor code")
		}
	}

	now := time.Now().UTC()
	if err := h.db.WithContext(ctx).Model(&u).Update("last_login", now).Error; err != nil {
		return err
	}
	u.LastLogin = &now

	if _, err := h.audit.Record(ctx, nil, audit.Entry{
		Actor:       actorOf(&u),
		Action:      audit.ActionLogin,
		Resource:    audit.ResUser,
		ResourceID:  audit.ID(u.ID),
		Description: "User logged in",
		Meta:        audit.MetaFrom(c),
	}); err != nil {
		return err
	}

	return h.respondWithToken(c, fiber.StatusOK, &u)
}

/* ================================= Me =================================== */

// @Summary      Get current user profile
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.User
// @Failure      401  {object}  models.ErrorResponse
// @Router       /auth/me [get]
func (h *Handler) Me(c *fiber.Ctx) error {
	var u models.User
	if err := h.db.WithContext(c.UserContext()).First(&u, "id = ?", MustUserID(c)).Error; err != nil {
		return err
	}
	return c.JSON(u)
}

// @Summary      Update own profile
// @Tags         auth
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  UpdateMeRequest  true  "Profile fields"
// @Success      200  {object}  models.User
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /auth/me [put]
func (h *Handler) UpdateMe(c *fiber.Ctx) error {
	var in UpdateMeRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if err := validation.Check(in); err != nil {
		return err
	}

	ctx := c.UserContext()
	var u models.User
	if err := h.db.WithContext(ctx).First(&u, "id = ?", MustUserID(c)).Error; err != nil {
		return err
	}

	updates := map[string]any{}
	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if name == "" {
			return apperr.Field("full_name", "Full name cannot be empty")
		}
		updates["full_name"] = name
	}
	if in.Phone != nil {
		updates["phone"] = *in.Phone
	}
	if in.CompanyName != nil {
		company := strings.TrimSpace(*in.CompanyName)
		if company == "" && u.Role == models.RoleCorporate {
			return apperr.Field("company_name", "Corporate clients need a company name")
		}
		updates["company_name"] = company
	}
	if in.Address != nil {
		updates["address"] = *in.Address
	}
	if in.BankAccountInfo != nil {
		updates["bank_account_info"] = *in.BankAccountInfo
	}
	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&u).Updates(updates).Error; err != nil {
			return err
		}
	}
	return c.JSON(u)
}

/* =========================== Change password ============================ */

// @Summary      Change password
// @Description  Verify the current password, set a new one and clear the forced-change flag
// @Tags         auth
// @Security     BearerAuth
// @Accept       json
// @Param        payload  body  ChangePasswordRequest  true  "Passwords"
// @Success      204
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /auth/change-password [post]
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	var in ChangePasswordRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if err := validation.Check(in); err != nil {
		return err
	}

	ctx := c.UserContext()
	var u models.User
	if err := h.db.WithContext(ctx).First(&u, "id = ?", MustUserID(c)).Error; err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.CurrentPassword)) != nil {
		return apperr.Field("current_password", "Current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := h.db.WithContext(ctx).Model(&u).Updates(map[string]any{
		"password_hash":        string(hash),
		"must_change_password": false,
	}).Error; err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
