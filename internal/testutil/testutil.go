// Package testutil wires in-memory sqlite databases and auth shortcuts
// for handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/pkg/database"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Password is the plain-text password of every seeded user.
const Password = "secret123"

// OpenDB returns a migrated private in-memory database.
// It is limited to one connection, so code inside a transaction must use tx.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), true)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// SeedUser inserts an active user with the given role.
func SeedUser(t *testing.T, db *gorm.DB, role models.Role, opts ...func(*models.User)) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	require.NoError(t, err)

	id := uuid.New()
	u := models.User{
		ID:           id,
		Email:        fmt.Sprintf("%s-%s@example.com", role, id.String()[:8]),
		PasswordHash: string(hash),
		FullName:     "Test " + string(role),
		Role:         role,
		IsActive:     true,
		IsVerified:   true,
	}
	for _, o := range opts {
		o(&u)
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

// SeedCase inserts a civil case owned by clientID with no stages.
func SeedCase(t *testing.T, db *gorm.DB, clientID uuid.UUID, opts ...func(*models.Case)) models.Case {
	t.Helper()
	c := models.Case{
		CaseNumber: "2024/" + uuid.NewString()[:6],
		Title:      "Test case",
		CaseType:   models.CaseCivil,
		Status:     models.CasePending,
		ClientID:   clientID,
	}
	for _, o := range opts {
		o(&c)
	}
	require.NoError(t, db.Create(&c).Error)
	return c
}

// Actor converts a seeded user into a permissions actor.
func Actor(u models.User) permissions.Actor {
	return permissions.Actor{ID: u.ID, Role: u.Role}
}

// InjectAuth stands in for RequireAuth in handler tests.
func InjectAuth(a permissions.Actor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(permissions.LocalsKey, a)
		c.Locals("userID", a.ID)
		c.Locals("role", a.Role)
		return c.Next()
	}
}

// DoJSON sends body as JSON through app.Test and decodes an object response.
func DoJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

// Items extracts the items array of a paged response.
func Items(t *testing.T, body map[string]any) []any {
	t.Helper()
	items, ok := body["items"].([]any)
	require.True(t, ok, "no items in %v", body)
	return items
}
