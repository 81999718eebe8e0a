package authcore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRequest checks a struct against its validate tags and returns a
// [*ValidationError] with one detail per failing field.
func ValidateRequest(req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	details := make([]string, 0, len(ve))
	seen := make(map[string]bool, len(ve))
	for _, fe := range ve {
		if seen[fe.Field()] {
			continue
		}
		seen[fe.Field()] = true
		details = append(details, fieldError(fe))
	}
	return newValidationError("Validation failed", details)
}

// fieldError converts a single field failure into the user-facing message.
func fieldError(fe validator.FieldError) string {
	switch fe.Field() {
	case "Name":
		return "Name must be at least 2 characters long"
	case "Email":
		return "Invalid email address"
	case "Password":
		return "Password must be at least 8 characters long"
	case "ConfirmPassword":
		return "Passwords don't match"
	}
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "eqfield":
		return fmt.Sprintf("%s must match %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", fe.Field(), fe.Tag())
	}
}
