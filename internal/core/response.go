package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"escalarm/internal/types"
)

// maxRequestBodySize caps every decoded request body. Alarm and task
// payloads are a few hundred bytes.
const maxRequestBodySize = 1 << 20

const errCodeValidationInvalidJSON types.ErrorCode = "validation_invalid_json"

// APIResponse wraps every successful body: {"data": ..., "meta": {...}}.
type APIResponse struct {
	Data any           `json:"data"`
	Meta *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta carries list counts and warnings that did not block the
// request, such as a due date far in the past.
type ResponseMeta struct {
	Count    *int     `json:"count,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// APIErrorResponse wraps every error body: {"error": {...}}.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes v with status. v is marshalled before any header is written, so
// a marshal failure can still become a clean 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody(r, types.ErrCodeInternalUnexpected, "failed to encode response", nil))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Data writes v in the success envelope, attaching any warnings as meta.
func Data(w http.ResponseWriter, r *http.Request, status int, v any, warnings ...string) {
	resp := APIResponse{Data: v}
	if len(warnings) > 0 {
		resp.Meta = &ResponseMeta{Warnings: warnings}
	}
	JSON(w, r, status, resp)
}

// List writes items with their count. A nil slice encodes as [].
func List[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	JSON(w, r, http.StatusOK, APIResponse{Data: items, Meta: &ResponseMeta{Count: &n}})
}

// NoContent answers 204 for acknowledged side effects with nothing to return.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes err in the error envelope. The first AppError in the chain
// decides status, code and message. Any other error is reported as a bare
// 500 so driver or network text never reaches the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		JSON(w, r, http.StatusInternalServerError,
			errorBody(r, types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
		return
	}
	JSON(w, r, appErr.HTTPStatus(), errorBody(r, appErr.Code, appErr.Message, appErr.Details))
}

func errorBody(r *http.Request, code types.ErrorCode, msg string, details map[string]any) APIErrorResponse {
	return APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   msg,
		Details:   details,
		RequestID: types.GetRequestID(r.Context()),
	}}
}

// DecodeJSON reads exactly one JSON object into dst. Bodies that are empty,
// oversized, malformed, mistyped, carry unknown fields or trail a second
// value are all rejected with validation_invalid_json.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func decodeError(err error) *types.AppError {
	var (
		tooLarge *http.MaxBytesError
		syntax   *json.SyntaxError
		mistyped *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return types.NewAppError(errCodeValidationInvalidJSON,
			fmt.Sprintf("request body must not exceed %d bytes", tooLarge.Limit), err)
	case errors.As(err, &syntax):
		return types.NewAppError(errCodeValidationInvalidJSON,
			fmt.Sprintf("malformed JSON at offset %d", syntax.Offset), err)
	case errors.As(err, &mistyped):
		return types.NewAppErrorWithDetails(errCodeValidationInvalidJSON, "invalid value for field", err,
			map[string]any{"field": mistyped.Field, "expected": mistyped.Type.String()})
	case errors.Is(err, io.EOF):
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not be empty", err)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.TrimPrefix(err.Error(), "json: unknown field ")
		return types.NewAppErrorWithDetails(errCodeValidationInvalidJSON, "unknown field in request body", err,
			map[string]any{"field": strings.Trim(field, `"`)})
	default:
		return types.NewAppError(errCodeValidationInvalidJSON, "invalid JSON in request body", err)
	}
}
