package utils

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/lexdesk/portal-backend/pkg/apperr"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// ParsePage reads ?page=&pageSize= with sane defaults and caps.
func ParsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", strconv.Itoa(DefaultPageSize)))
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return
}

// Offset is the row offset for a 1-based page.
func Offset(page, size int) int { return (page - 1) * size }

// Pages returns the number of pages needed for total items.
func Pages(total int64, size int) int {
	if size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// ParamUUID parses a path parameter. A malformed id cannot name an
// existing record, so it is reported as not found.
func ParamUUID(c *fiber.Ctx, name, resource string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, apperr.NotFound(resource + " not found")
	}
	return id, nil
}

// QueryUUID parses an optional query parameter; empty yields nil.
func QueryUUID(c *fiber.Ctx, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Field(name, "Invalid UUID format")
	}
	return &id, nil
}
