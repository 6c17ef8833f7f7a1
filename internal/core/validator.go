package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult separates blocking errors from advisory warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// IsValid reports whether no blocking errors were found.
func (r ValidationResult) IsValid() bool { return len(r.Errors) == 0 }

// Warner is implemented by request types that can flag accepted but
// suspicious input.
type Warner interface {
	ValidationWarnings() []string
}

// Validator wraps go-playground/validator with the alarm-specific tags:
//
//	alarm_id          - "alm_" prefixed identifier
//	escalation_level  - level name ("urgent") or number ("3")
//	positive_duration - Go duration string greater than zero
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator. Field names in errors follow json tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("alarm_id", validateAlarmID)
	_ = v.RegisterValidation("escalation_level", validateLevel)
	_ = v.RegisterValidation("positive_duration", validatePositiveDuration)

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or an AppError whose code is that of the first
// failure and whose details list every failure under "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}
	first := result.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		first.Message,
		nil,
		map[string]any{"validation_errors": result.Errors},
	)
}

// ValidateStructWithWarnings runs validation and collects warnings from
// types implementing Warner.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	var result ValidationResult
	if err := v.validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			v.logger.Error("validator misuse", "error", err)
			result.Errors = append(result.Errors, ValidationError{
				Field:   "",
				Code:    string(types.ErrCodeValidationInvalidAlarm),
				Message: err.Error(),
			})
			return result
		}
		for _, fe := range fieldErrs {
			result.Errors = append(result.Errors, ValidationError{
				Field:   fe.Field(),
				Code:    tagToErrorCode(fe.Tag()),
				Message: fieldMessage(fe),
			})
		}
	}
	if w, ok := s.(Warner); ok {
		result.Warnings = append(result.Warnings, w.ValidationWarnings()...)
	}
	return result
}

// tagToErrorCode maps validator tags to error codes. Unknown tags fall back
// to validation_invalid_alarm.
func tagToErrorCode(tag string) string {
	switch tag {
	case "required", "required_without":
		return string(types.ErrCodeValidationMissingField)
	case "escalation_level":
		return string(types.ErrCodeValidationInvalidLevel)
	case "positive_duration":
		return string(types.ErrCodeValidationInvalidSnooze)
	default:
		return string(types.ErrCodeValidationInvalidAlarm)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fe.Field() + " is required"
	case "alarm_id":
		return fe.Field() + " must be an alarm id (alm_...)"
	case "escalation_level":
		return fe.Field() + " must be a level name or number 1-5"
	case "positive_duration":
		return fe.Field() + " must be a positive duration such as 10m"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
}

func validateAlarmID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return id == "" || (strings.HasPrefix(id, escalation.AlarmIDPrefix) && len(id) > len(escalation.AlarmIDPrefix))
}

func validateLevel(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := escalation.ParseLevel(s)
	return err == nil
}

func validatePositiveDuration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d > 0
}
