package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/camflow/internal/imagesource"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/persongroup"
	"go.uber.org/zap"
)

// PersonStore is the person group collection.
type PersonStore interface {
	Groups() []persongroup.Group
	AddReference(ctx context.Context, img image.Image, name string) (bool, error)
	DeleteGroup(ctx context.Context, id string) (bool, error)
}

// PersonsHandler handles person group endpoints
type PersonsHandler struct {
	store  PersonStore
	images imagesource.Loader
}

// NewPersonsHandler creates a new persons handler
func NewPersonsHandler(store PersonStore, images imagesource.Loader) *PersonsHandler {
	return &PersonsHandler{store: store, images: images}
}

// PersonResponse is a person group without its embeddings
type PersonResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	References int       `json:"references"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AddReferenceRequest registers a reference image for a person
type AddReferenceRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// List returns all person groups
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	groups := h.store.Groups()
	out := make([]PersonResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, PersonResponse{
			ID:         g.ID,
			Name:       g.Name,
			References: len(g.Embeddings),
			CreatedAt:  g.CreatedAt,
			UpdatedAt:  g.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// AddReference embeds the faces of an image into the named person group
func (h *PersonsHandler) AddReference(w http.ResponseWriter, r *http.Request) {
	var req AddReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Image == "" {
		respondError(w, http.StatusBadRequest, "name and image are required")
		return
	}

	img, err := loadImage(r.Context(), h.images, req.Image)
	if err != nil {
		respondError(w, imageErrorStatus(err), err.Error())
		return
	}

	added, err := h.store.AddReference(r.Context(), img, req.Name)
	if errors.Is(err, persongroup.ErrEmptyName) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, persongroup.ErrDimensionMismatch) {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("adding reference failed", zap.String("name", sanitizeForLog(req.Name)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to add reference")
		return
	}
	if !added {
		respondError(w, http.StatusUnprocessableEntity, "no usable face found in image")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]bool{"added": true})
}

// Delete removes a person group
func (h *PersonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.store.DeleteGroup(r.Context(), id)
	if err != nil {
		logger.FromContext(r.Context()).Error("deleting person failed", zap.String("id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete person")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
