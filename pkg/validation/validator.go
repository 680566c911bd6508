package validation

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance; validator.Validate caches struct metadata
	validate *validator.Validate

	// MaxNodeIDLength bounds node ids so they stay readable in logs and metric labels
	MaxNodeIDLength = 64

	nodeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("nodeid", func(fl validator.FieldLevel) bool {
		return ValidateNodeID(fl.Field().String()) == nil
	})
}

// Struct validates v against its `validate` struct tags.
// The first failing field is reported in a human-readable form.
func Struct(v any) error {
	if v == nil {
		return errors.New("value cannot be nil")
	}
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateNodeID validates a cluster node identifier
func ValidateNodeID(id string) error {
	if id == "" {
		return errors.New("node id cannot be empty")
	}
	if len(id) > MaxNodeIDLength {
		return fmt.Errorf("node id '%s' exceeds maximum length of %d characters", id, MaxNodeIDLength)
	}
	if !nodeIDPattern.MatchString(id) {
		return fmt.Errorf("node id '%s' contains invalid characters (only alphanumeric, '_', '-' and '.' allowed)", id)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		case "nodeid":
			return fmt.Errorf("%s: invalid node id %q", field, e.Value())
		case "hostname_rfc1123", "ip", "hostname_rfc1123|ip":
			return fmt.Errorf("%s: invalid host %q", field, e.Value())
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
