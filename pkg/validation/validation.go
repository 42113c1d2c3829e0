package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	v *validator.Validate

	reNationalID = regexp.MustCompile(`^\d{11}$`) // personal identity number
	reTaxNumber  = regexp.MustCompile(`^\d{10}$`) // corporate tax number
)

func init() {
	v = validator.New()

	// Use JSON tag (or form tag for multipart) as the field name in error output
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	_ = v.RegisterValidation("nationalid", func(fl validator.FieldLevel) bool {
		val := strings.TrimSpace(fl.Field().String())
		if val == "" { // let omitempty handle empty
			return true
		}
		return reNationalID.MatchString(val)
	})

	_ = v.RegisterValidation("taxnumber", func(fl validator.FieldLevel) bool {
		val := strings.TrimSpace(fl.Field().String())
		if val == "" {
			return true
		}
		return reTaxNumber.MatchString(val)
	})
}

// Validate returns map[field][]messages (Laravel-like)
func Validate(s any) (map[string][]string, error) {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, err
		}
		out := make(map[string][]string)
		for _, e := range ve {
			field := e.Field()
			out[field] = append(out[field], message(e))
		}
		return out, nil
	}
	return nil, nil
}

func message(e validator.FieldError) string {
	isString := e.Kind() == reflect.String
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min", "gte":
		if isString {
			return fmt.Sprintf("Must be at least %s characters", e.Param())
		}
		return fmt.Sprintf("Must be at least %s", e.Param())
	case "max", "lte":
		if isString {
			return fmt.Sprintf("Must be at most %s characters", e.Param())
		}
		return fmt.Sprintf("Must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("Must be greater than %s", e.Param())
	case "oneof":
		return "Value is not allowed"
	case "uuid", "uuid4":
		return "Invalid UUID format"
	case "len":
		return fmt.Sprintf("Must be exactly %s characters", e.Param())
	case "nationalid":
		return "National ID must be 11 digits"
	case "taxnumber":
		return "Tax number must be 10 digits"
	}
	// Fallback to original error text if we missed a tag
	return e.Error()
}
