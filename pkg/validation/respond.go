package validation

import "github.com/lexdesk/portal-backend/pkg/apperr"

// Check validates s and converts field errors into an apperr validation
// error, which the error handler renders as a Laravel-style 400.
func Check(s any) error {
	errs, err := Validate(s)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return apperr.Invalid(errs)
	}
	return nil
}
