package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/kozaktomas/camflow/internal/imagesource"
	"github.com/kozaktomas/camflow/internal/imaging"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// loadImage resolves ref and decodes it.
func loadImage(ctx context.Context, loader imagesource.Loader, ref string) (image.Image, error) {
	data, err := loader.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %w", ref, err)
	}
	return imaging.Decode(data)
}

// imageErrorStatus maps image loading errors to a response status.
func imageErrorStatus(err error) int {
	switch {
	case errors.Is(err, imagesource.ErrUnsupportedScheme), errors.Is(err, imagesource.ErrTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, imagesource.ErrOutsideRoot):
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}
