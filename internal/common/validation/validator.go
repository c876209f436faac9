// Package validation wraps go-playground/validator with the error messages and
// custom tags used by webhook route definitions.
package validation

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"webhook-verifier/internal/common/errors"
)

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
}

// FieldError represents a single validation failure with context
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// NewCentralizedValidator creates a new validator instance
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	registerWebhookValidators(v)

	// Report JSON names so messages line up with the routes file
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &CentralizedValidator{validator: v}
}

// ValidateStruct validates a struct using struct tags
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// ValidateVar validates a single variable with validation rules
func (cv *CentralizedValidator) ValidateVar(field interface{}, tag string) error {
	if err := cv.validator.Var(field, tag); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// FieldErrors returns the individual failures for s, or nil when s is valid
func (cv *CentralizedValidator) FieldErrors(s interface{}) []FieldError {
	if err := cv.validator.Struct(s); err != nil {
		return cv.extractFieldErrors(err)
	}
	return nil
}

func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	fieldErrors := cv.extractFieldErrors(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}

	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *CentralizedValidator) extractFieldErrors(err error) []FieldError {
	var validationErrs validator.ValidationErrors
	if !stderrors.As(err, &validationErrs) {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: formatFieldError(fe),
		})
	}
	return out
}

func formatFieldError(err validator.FieldError) string {
	field := err.Namespace()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "required_if":
		return fmt.Sprintf("field '%s' is required when %s", field, err.Param())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, err.Param())
	case "header_name":
		return fmt.Sprintf("field '%s' must be a valid HTTP header name", field)
	case "signature_format":
		return fmt.Sprintf("field '%s' must contain ${signature}", field)
	case "route_path":
		return fmt.Sprintf("field '%s' must be a path segment without slashes", field)
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", field, err.Tag())
	}
}

func registerWebhookValidators(v *validator.Validate) {
	// RFC 7230 token characters
	_ = v.RegisterValidation("header_name", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if name == "" {
			return false
		}
		for _, r := range name {
			if r > 0x7e || r <= 0x20 || strings.ContainsRune("\"(),/:;<=>?@[\\]{}", r) {
				return false
			}
		}
		return true
	})

	_ = v.RegisterValidation("signature_format", func(fl validator.FieldLevel) bool {
		return strings.Contains(fl.Field().String(), "${signature}")
	})

	_ = v.RegisterValidation("route_path", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		return path != "" && !strings.ContainsAny(path, "/?#")
	})
}

var globalValidator = NewCentralizedValidator()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}

// ValidateVar validates a variable using the global validator instance
func ValidateVar(field interface{}, tag string) error {
	return globalValidator.ValidateVar(field, tag)
}
