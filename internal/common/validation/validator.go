// Package validation wraps go-playground/validator with the tags and error format
// used across the service.
package validation

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/common/errors"
)

// CronParser accepts standard 5-field expressions, an optional leading seconds
// field and descriptors such as "@hourly" or "@every 10m".
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validator validates structs using `validate` struct tags.
type Validator struct {
	validator *validator.Validate
}

// FieldError is a single failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
)

// Default returns a shared Validator.
func Default() *Validator {
	defaultOnce.Do(func() {
		defaultValidator = New()
	})
	return defaultValidator
}

// New creates a Validator with the custom tags registered. Field names in errors
// come from the `env` tag, then the `json` tag, then the Go field name.
func New() *Validator {
	v := validator.New()
	registerValidators(v)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validator: v}
}

// ValidateStruct validates s and returns a validation AppError listing every failed rule.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrors := v.FieldErrors(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}
	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

// ValidateVar validates a single value against tag.
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	if err := v.validator.Var(field, tag); err != nil {
		fieldErrors := v.FieldErrors(err)
		return errors.ValidationError(fieldErrors[0].Message)
	}
	return nil
}

// FieldErrors converts a validator error into FieldErrors.
func (v *Validator) FieldErrors(err error) []FieldError {
	var validationErrs validator.ValidationErrors
	if !stderrors.As(err, &validationErrs) {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: formatFieldError(fe),
		})
	}
	return out
}

func formatFieldError(err validator.FieldError) string {
	field := err.Field()
	if field == "" {
		field = "value"
	}
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "required_if":
		return fmt.Sprintf("field '%s' is required when %s", field, err.Param())
	case "required_with":
		return fmt.Sprintf("field '%s' is required together with %s", field, err.Param())
	case "min", "gte":
		return fmt.Sprintf("field '%s' must be at least %s", field, err.Param())
	case "max", "lte":
		return fmt.Sprintf("field '%s' must be at most %s", field, err.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, err.Param())
	case "hostname_port":
		return fmt.Sprintf("field '%s' must be a host:port address", field)
	case "cron_schedule":
		return fmt.Sprintf("field '%s' must be a valid cron schedule", field)
	case "cache_level":
		return fmt.Sprintf("field '%s' must be a cache level (local, secondary, shared, all)", field)
	case "sql_identifier":
		return fmt.Sprintf("field '%s' must be a plain SQL identifier", field)
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", field, err.Tag())
	}
}

func registerValidators(v *validator.Validate) {
	// An empty schedule disables scheduling; use `required` to forbid it.
	_ = v.RegisterValidation("cron_schedule", func(fl validator.FieldLevel) bool {
		expr := strings.TrimSpace(fl.Field().String())
		if expr == "" {
			return true
		}
		_, err := CronParser.Parse(expr)
		return err == nil
	})

	_ = v.RegisterValidation("cache_level", func(fl validator.FieldLevel) bool {
		_, err := cache.ParseLevel(fl.Field().String())
		return err == nil
	})

	_ = v.RegisterValidation("sql_identifier", func(fl validator.FieldLevel) bool {
		return IsSQLIdentifier(fl.Field().String())
	})
}

// IsSQLIdentifier reports whether name is a bare identifier safe to splice into SQL.
func IsSQLIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
