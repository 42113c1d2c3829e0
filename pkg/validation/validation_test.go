package validation

import (
	"testing"

	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email      string `json:"email" validate:"required,email"`
	NationalID string `json:"national_id" validate:"omitempty,nationalid"`
	TaxNumber  string `json:"tax_number" validate:"omitempty,taxnumber"`
	Name       string `json:"full_name" validate:"required,min=2"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	errs, err := Validate(sample{Email: "nope", NationalID: "123", TaxNumber: "12345678901", Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Invalid email format"}, errs["email"])
	assert.Equal(t, []string{"National ID must be 11 digits"}, errs["national_id"])
	assert.Equal(t, []string{"Tax number must be 10 digits"}, errs["tax_number"])
	assert.Equal(t, []string{"Must be at least 2 characters"}, errs["full_name"])
}

func TestCheckPassesValidInput(t *testing.T) {
	assert.NoError(t, Check(sample{Email: "a@b.co", NationalID: "12345678901", TaxNumber: "1234567890", Name: "Ayse"}))
}

func TestCheckReturnsValidationKind(t *testing.T) {
	err := Check(sample{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
