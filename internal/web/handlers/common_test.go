package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/camflow/internal/imagesource"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		data       any
		wantBody   string
	}{
		{"map", http.StatusOK, map[string]int{"deleted": 2}, "{\"deleted\":2}\n"},
		{"empty map", http.StatusCreated, map[string]string{}, "{}\n"},
		{"nil data", http.StatusNoContent, nil, ""},
		{"array", http.StatusOK, []string{"one"}, "[\"one\"]\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, tc.data)

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
			if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
			}
			if recorder.Body.String() != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, recorder.Body.String())
			}
		})
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusNotFound, "task not found")

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "task not found" {
		t.Errorf("expected error 'task not found', got '%s'", result["error"])
	}
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", recorder.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	for _, method := range []string{"GET", "HEAD"} {
		t.Run(method, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			HealthCheck(recorder, httptest.NewRequest(method, "/api/v1/health", nil))

			if recorder.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", recorder.Code)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("alice\r\nFAKE entry"); got != "aliceFAKE entry" {
		t.Errorf("expected newlines stripped, got %q", got)
	}
}

func TestImageErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("load: %w", imagesource.ErrUnsupportedScheme), http.StatusBadRequest},
		{imagesource.ErrTooLarge, http.StatusBadRequest},
		{fmt.Errorf("%w: /etc/passwd", imagesource.ErrOutsideRoot), http.StatusForbidden},
		{errors.New("no such file"), http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		if got := imageErrorStatus(tc.err); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}
