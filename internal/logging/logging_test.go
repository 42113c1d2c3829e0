package logging

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexdesk/portal-backend/pkg/apperr"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("verbose", false)
	assert.Error(t, err)
	_, err = New("DEBUG", true)
	assert.NoError(t, err)
}

func TestRequestLoggerWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "info", false)
	require.NoError(t, err)

	app := fiber.New()
	app.Use(RequestLogger(log))
	app.Get("/missing", func(c *fiber.Ctx) error { return c.SendStatus(404) })

	_, err = app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "/missing", line["path"])
	assert.EqualValues(t, 404, line["status"])
}

func TestRequestLoggerUsesRenderedErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "info", false)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		return c.Status(apperr.KindOf(err).Status()).SendString(err.Error())
	}})
	app.Use(RequestLogger(log))
	app.Get("/cases/:id", func(c *fiber.Ctx) error { return apperr.NotFound("Case not found") })

	resp, err := app.Test(httptest.NewRequest("GET", "/cases/1", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.EqualValues(t, 404, line["status"])
}
