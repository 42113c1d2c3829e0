package auth

import (
	"encoding/base64"

	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"

	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/lexdesk/portal-backend/pkg/validation"
)

/* ============================ Two-factor auth =========================== */

type TOTPSetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	QRCodePNG  string `json:"qr_code_png"` // base64
}

type TOTPCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func validateTOTP(code, secret string) bool {
	return secret != "" && totp.Validate(code, secret)
}

func actorOf(u *models.User) permissions.Actor {
	return permissions.Actor{ID: u.ID, Role: u.Role}
}

// @Summary      Start 2FA enrolment
// @Description  Generate a TOTP secret and QR code; 2FA stays off until confirmed via /auth/2fa/enable
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  TOTPSetupResponse
// @Failure      409  {object}  models.ErrorResponse  "already enabled"
// @Router       /auth/2fa/setup [post]
func (h *Handler) SetupTOTP(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var u models.User
	if err := h.db.WithContext(ctx).First(&u, "id = ?", MustUserID(c)).Error; err != nil {
		return err
	}
	if u.Is2FAEnabled {
		return apperr.Conflict("Two-factor authentication is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: h.totpIssuer, AccountName: u.Email})
	if err != nil {
		return err
	}
	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return err
	}
	if err := h.db.WithContext(ctx).Model(&u).Update("totp_secret", key.Secret()).Error; err != nil {
		return err
	}

	return c.JSON(TOTPSetupResponse{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCodePNG:  base64.StdEncoding.EncodeToString(png),
	})
}

// @Summary      Confirm 2FA enrolment
// @Tags         auth
// @Security     BearerAuth
// @Accept       json
// @Param        payload  body  TOTPCodeRequest  true  "Current code"
// @Success      204
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /auth/2fa/enable [post]
func (h *Handler) EnableTOTP(c *fiber.Ctx) error {
	return h.toggleTOTP(c, true)
}

// @Summary      Disable 2FA
// @Tags         auth
// @Security     BearerAuth
// @Accept       json
// @Param        payload  body  TOTPCodeRequest  true  "Current code"
// @Success      204
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /auth/2fa/disable [post]
func (h *Handler) DisableTOTP(c *fiber.Ctx) error {
	return h.toggleTOTP(c, false)
}

func (h *Handler) toggleTOTP(c *fiber.Ctx, enable bool) error {
	var in TOTPCodeRequest
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
	if u.TOTPSecret == "" {
		return apperr.Validation("Two-factor setup has not been started")
	}
	if !validateTOTP(in.Code, u.TOTPSecret) {
		return apperr.Field("code", "Invalid two-factor code")
	}

	updates := map[string]any{"is_2fa_enabled": enable}
	if !enable {
		updates["totp_secret"] = ""
	}
	if err := h.db.WithContext(ctx).Model(&u).Updates(updates).Error; err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
