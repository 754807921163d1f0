package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"citycast/internal/artifacts"
	"citycast/internal/types"
)

// Validator wraps go-playground/validator with the domain tags and maps the
// first failure to an AppError.
//
// Custom tags:
//   - city: a name usable as an artifact key (no separators, no dot names)
//
// A field may carry `errcode:"..."` to choose the code reported when it fails.
// Otherwise required fields report validation_missing_required_field and all
// other failures validation_invalid_field.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator with the custom tags registered.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report query/json names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})

	if err := v.RegisterValidation("city", func(fl validator.FieldLevel) bool {
		return artifacts.ValidateCity(fl.Field().String()) == nil
	}); err != nil {
		// Only fails on an empty tag or nil func.
		panic(fmt.Sprintf("registering city validator: %v", err))
	}

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s, which must be a struct or pointer to one.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		if v.logger != nil {
			v.logger.Error("validator misuse", "error", err)
		}
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not be performed", err)
	}

	fe := fieldErrs[0]
	details := map[string]any{
		"field": fe.Field(),
		"rule":  fe.Tag(),
	}
	if fe.Param() != "" {
		details["param"] = fe.Param()
	}
	return types.NewAppErrorWithDetails(codeFor(s, fe), messageFor(fe), err, details)
}

func codeFor(s any, fe validator.FieldError) types.ErrorCode {
	t := reflect.TypeOf(s)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if f, ok := t.FieldByName(fe.StructField()); ok {
		if code := f.Tag.Get("errcode"); code != "" {
			return types.ErrorCode(code)
		}
	}
	if fe.Tag() == "required" {
		return types.ErrCodeValidationMissingField
	}
	return types.ErrCodeValidationInvalidField
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "city":
		return fmt.Sprintf("%s is not a valid city name", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
