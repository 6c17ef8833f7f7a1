package core

import (
	"errors"
	"testing"

	"escalarm/internal/types"
)

type testSnoozeRequest struct {
	AlarmID  string `json:"alarm_id" validate:"required,alarm_id"`
	Duration string `json:"duration" validate:"required,positive_duration"`
	Level    string `json:"level" validate:"omitempty,escalation_level"`
}

type testWarningRequest struct {
	Title string `json:"title" validate:"required"`
}

func (r testWarningRequest) ValidationWarnings() []string {
	if len(r.Title) < 3 {
		return []string{"title is very short"}
	}
	return nil
}

func TestValidationResult_IsValid(t *testing.T) {
	if !(ValidationResult{}).IsValid() {
		t.Error("empty result should be valid")
	}
	if !(ValidationResult{Warnings: []string{"w"}}).IsValid() {
		t.Error("warnings alone should be valid")
	}
	if (ValidationResult{Errors: []ValidationError{{Field: "x"}}}).IsValid() {
		t.Error("errors should be invalid")
	}
}

func TestNewValidator(t *testing.T) {
	v := NewValidator(testLogger())
	if v.validate == nil || v.logger == nil {
		t.Fatal("validator not initialized")
	}
}

func TestValidateStruct_Success(t *testing.T) {
	v := NewValidator(testLogger())
	req := testSnoozeRequest{AlarmID: "alm_1", Duration: "10m", Level: "urgent"}
	if err := v.ValidateStruct(req); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	req.Level = "4"
	if err := v.ValidateStruct(req); err != nil {
		t.Errorf("numeric level should pass, got %v", err)
	}
}

func TestValidateStruct_Failure_ReturnsAppError(t *testing.T) {
	v := NewValidator(testLogger())
	err := v.ValidateStruct(testSnoozeRequest{AlarmID: "", Duration: "-5m", Level: "loud"})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("code: got %s", appErr.Code)
	}
	errs, ok := appErr.Details["validation_errors"].([]ValidationError)
	if !ok {
		t.Fatalf("expected []ValidationError in details, got %T", appErr.Details["validation_errors"])
	}
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %+v", len(errs), errs)
	}
	byField := map[string]ValidationError{}
	for _, e := range errs {
		byField[e.Field] = e
	}
	if byField["duration"].Code != string(types.ErrCodeValidationInvalidSnooze) {
		t.Errorf("duration code: got %q", byField["duration"].Code)
	}
	if byField["level"].Code != string(types.ErrCodeValidationInvalidLevel) {
		t.Errorf("level code: got %q", byField["level"].Code)
	}
}

func TestValidateStruct_AlarmIDPrefix(t *testing.T) {
	v := NewValidator(testLogger())
	for _, id := range []string{"alarm_1", "alm_", "123"} {
		err := v.ValidateStruct(testSnoozeRequest{AlarmID: id, Duration: "1m"})
		if !types.HasCode(err, types.ErrCodeValidationInvalidAlarm) {
			t.Errorf("id %q: expected invalid alarm, got %v", id, err)
		}
	}
}

func TestValidateStructWithWarnings(t *testing.T) {
	v := NewValidator(testLogger())
	res := v.ValidateStructWithWarnings(testWarningRequest{Title: "ab"})
	if !res.IsValid() {
		t.Errorf("unexpected errors: %+v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", res.Warnings)
	}
}

func TestTagToErrorCode(t *testing.T) {
	cases := map[string]types.ErrorCode{
		"required":          types.ErrCodeValidationMissingField,
		"escalation_level":  types.ErrCodeValidationInvalidLevel,
		"positive_duration": types.ErrCodeValidationInvalidSnooze,
		"alarm_id":          types.ErrCodeValidationInvalidAlarm,
		"max":               types.ErrCodeValidationInvalidAlarm,
	}
	for tag, want := range cases {
		if got := tagToErrorCode(tag); got != string(want) {
			t.Errorf("tagToErrorCode(%q) = %q, want %q", tag, got, want)
		}
	}
}
