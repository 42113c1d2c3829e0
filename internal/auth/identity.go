package auth

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
)

const tempPasswordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateTempPassword returns an n-character alphanumeric password.
func GenerateTempPassword(n int) (string, error) {
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "random index")
		}
		out[i] = tempPasswordAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// Identity is the set of unique user identifiers to check.
type Identity struct {
	Email      string
	NationalID string
	TaxNumber  string
	ExceptID   *uuid.UUID // the user being updated, if any
}

// CheckIdentityUnique returns a Conflict naming the first identifier in use.
func CheckIdentityUnique(ctx context.Context, db *gorm.DB, id Identity) error {
	checks := []struct {
		column, value, msg string
	}{
		{"email", id.Email, "Email is already registered"},
		{"national_id", id.NationalID, "National ID is already registered"},
		{"tax_number", id.TaxNumber, "Tax number is already registered"},
	}
	for _, ch := range checks {
		if ch.value == "" {
			continue
		}
		q := db.WithContext(ctx).Model(&models.User{}).Where(ch.column+" = ?", ch.value)
		if id.ExceptID != nil {
			q = q.Where("id <> ?", *id.ExceptID)
		}
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return errors.Wrapf(err, "check %s", ch.column)
		}
		if n > 0 {
			return apperr.Conflict(ch.msg)
		}
	}
	return nil
}

// StrPtr returns nil for empty strings so optional unique columns stay NULL.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
