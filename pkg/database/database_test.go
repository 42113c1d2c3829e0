package database

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("other")))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}

func TestSqliteDuplicateIsTranslated(t *testing.T) {
	db, err := Connect("file:"+uuid.NewString()+"?mode=memory&cache=shared", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	require.NoError(t, Migrate(db))

	u := models.User{Email: "a@example.com", PasswordHash: "x", FullName: "A", Role: models.RoleIndividual, IsActive: true}
	require.NoError(t, db.Create(&u).Error)

	dup := models.User{Email: "a@example.com", PasswordHash: "x", FullName: "B", Role: models.RoleIndividual}
	err = db.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestDriver(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
	}{
		{"postgres://app:pw@db:5432/portal?sslmode=disable", "postgres"},
		{"postgresql://db/portal", "postgres"},
		{"host=db user=app password=pw dbname=portal sslmode=disable", "postgres"},
		{"dbname=portal", "postgres"},
		{"file:portal.db?_fk=1", "sqlite"},
		{"file:abc?mode=memory&cache=shared", "sqlite"},
		{":memory:", "sqlite"},
		{"./data/portal.db", "sqlite"},
		{"portal.sqlite3", "sqlite"},
	}
	for _, tc := range cases {
		got, err := Driver(tc.dsn)
		require.NoError(t, err, tc.dsn)
		assert.Equal(t, tc.want, got, tc.dsn)
	}

	for _, bad := range []string{"", "   ", "portal", "mysql://db/portal", "sslmode=disable password=secret"} {
		_, err := Driver(bad)
		assert.Error(t, err, bad)
	}
	_, err := Driver("sslmode=disable password=secret")
	assert.NotContains(t, err.Error(), "secret")
}

func TestConnectRejectsUnknownDSN(t *testing.T) {
	_, err := Connect("portal", true)
	assert.Error(t, err)
}
