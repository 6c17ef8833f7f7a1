package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"escalarm/internal/types"
)

func TestError_AppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	err := fmt.Errorf("handler: %w", types.NewAppErrorWithDetails(
		types.ErrCodeNotFoundAlarm, "alarm not found", nil, map[string]any{"alarm_id": "alm_x"}))
	Error(rec, req, err)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rec.Code)
	}
	resp := decodeErrorBody(t, rec)
	if resp.Error.Code != string(types.ErrCodeNotFoundAlarm) {
		t.Errorf("code: got %q", resp.Error.Code)
	}
	if resp.Error.Details["alarm_id"] != "alm_x" {
		t.Errorf("details: got %v", resp.Error.Details)
	}
	if resp.Error.RequestID != "req-1" {
		t.Errorf("request id: got %q", resp.Error.RequestID)
	}
}

func TestError_GenericDoesNotLeak(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("internal error text leaked")
	}
}

func TestList_CountsAndNeverNull(t *testing.T) {
	rec := httptest.NewRecorder()
	List[string](rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	var resp struct {
		Data []string     `json:"data"`
		Meta ResponseMeta `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data == nil {
		t.Error("data should be an empty array, not null")
	}
	if resp.Meta.Count == nil || *resp.Meta.Count != 0 {
		t.Errorf("count: got %v", resp.Meta.Count)
	}
}

func TestData_Warnings(t *testing.T) {
	rec := httptest.NewRecorder()
	Data(rec, httptest.NewRequest(http.MethodPost, "/", nil), http.StatusCreated, map[string]string{"id": "alm_1"}, "due_date is in the past")

	if rec.Code != http.StatusCreated {
		t.Errorf("status: got %d", rec.Code)
	}
	var resp struct {
		Meta *ResponseMeta `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Meta == nil || len(resp.Meta.Warnings) != 1 {
		t.Fatalf("meta: got %+v", resp.Meta)
	}

	rec = httptest.NewRecorder()
	Data(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, "x")
	if strings.Contains(rec.Body.String(), "meta") {
		t.Errorf("meta should be omitted without warnings: %s", rec.Body.String())
	}
}

func TestNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	NoContent(rec)
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Errorf("got %d with %q", rec.Code, rec.Body.String())
	}
}

func TestDecodeJSON_UnknownFieldDetails(t *testing.T) {
	var dst struct {
		Title string `json:"title"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","level":3}`))
	err := DecodeJSON(httptest.NewRecorder(), req, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Details["field"] != "level" {
		t.Errorf("details: got %v", appErr.Details)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"bad": make(chan int)})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Title string `json:"title"`
	}
	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"title":"x"}`, false},
		{"empty", ``, true},
		{"syntax", `{"title":`, true},
		{"unknown field", `{"title":"x","extra":1}`, true},
		{"wrong type", `{"title":3}`, true},
		{"trailing value", `{"title":"x"}{"title":"y"}`, true},
		{"too large", `{"title":"` + strings.Repeat("a", maxRequestBodySize) + `"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.input))
			var dst body
			err := DecodeJSON(rec, req, &dst)
			if tc.wantErr {
				if !types.HasCode(err, errCodeValidationInvalidJSON) {
					t.Errorf("expected %s, got %v", errCodeValidationInvalidJSON, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dst.Title != "x" {
				t.Errorf("title: got %q", dst.Title)
			}
		})
	}
}
