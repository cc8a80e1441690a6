package handlers

import (
	"context"
	"encoding/json"
	"image"
	"net/http"

	"github.com/kozaktomas/camflow/internal/facematch"
	"github.com/kozaktomas/camflow/internal/imagesource"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/pipeline"
	"go.uber.org/zap"
)

// FaceRecognizer recognizes the faces of one image.
type FaceRecognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]facematch.RecognitionResult, error)
}

// RecognizeHandler runs face recognition synchronously on a single image
type RecognizeHandler struct {
	recognizer FaceRecognizer
	images     imagesource.Loader
}

// NewRecognizeHandler creates a new recognize handler
func NewRecognizeHandler(recognizer FaceRecognizer, images imagesource.Loader) *RecognizeHandler {
	return &RecognizeHandler{recognizer: recognizer, images: images}
}

// RecognizeResponse lists every face and the summary text
type RecognizeResponse struct {
	Summary string                        `json:"summary"`
	Faces   []facematch.RecognitionResult `json:"faces"`
}

// Recognize handles POST /recognize
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if h.recognizer == nil {
		respondError(w, http.StatusServiceUnavailable, "face recognition is not configured")
		return
	}

	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	img, err := loadImage(r.Context(), h.images, req.Image)
	if err != nil {
		respondError(w, imageErrorStatus(err), err.Error())
		return
	}

	faces, err := h.recognizer.Recognize(r.Context(), img)
	if err != nil {
		logger.FromContext(r.Context()).Warn("recognition failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if faces == nil {
		faces = []facematch.RecognitionResult{}
	}

	respondJSON(w, http.StatusOK, RecognizeResponse{
		Summary: pipeline.DescribeRecognition(faces),
		Faces:   faces,
	})
}
