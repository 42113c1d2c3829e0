package auth

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/database"
	"github.com/lexdesk/portal-backend/pkg/models"
)

/* =========================== Error Formatting =========================== */

// httpCodeToString converts an HTTP status code to a short, stable string.
func httpCodeToString(code int) string {
	switch code {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "UNPROCESSABLE_ENTITY"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// NewErrorHandler returns the global Fiber error handler. Every failure is
// rendered as {error, code, message}, except field validation errors which
// use the Laravel-style {message, errors} shape.
func NewErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "Internal Server Error"

		var ae *apperr.Error
		var fe *fiber.Error
		switch {
		case errors.As(err, &ae):
			if ae.Kind == apperr.KindValidation && len(ae.Fields) > 0 {
				return c.Status(fiber.StatusBadRequest).JSON(models.ValidationErrorResponse{
					Message: ae.Message,
					Errors:  ae.Fields,
				})
			}
			code = ae.Kind.Status()
			if ae.Kind != apperr.KindInternal {
				msg = ae.Message
			}
		case errors.As(err, &fe):
			code = fe.Code
			if strings.TrimSpace(fe.Message) != "" {
				msg = fe.Message
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			code, msg = fiber.StatusNotFound, "Not Found"
		case database.IsUniqueViolation(err):
			code, msg = fiber.StatusConflict, "Resource already exists"
		}

		if code >= fiber.StatusInternalServerError {
			log.Error("unhandled error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Any("error", err),
			)
		}

		return c.Status(code).JSON(models.ErrorResponse{
			Code:    httpCodeToString(code),
			Error:   true,
			Message: msg,
		})
	}
}
