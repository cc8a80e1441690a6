package handlers

import (
	"net/http"

	"github.com/kozaktomas/camflow/internal/ai"
	"github.com/kozaktomas/camflow/internal/config"
	"github.com/kozaktomas/camflow/internal/delivery"
)

// ModelLister lists the models tasks can use.
type ModelLister interface {
	Models() []ai.ModelInfo
}

// ChannelSet reports which delivery channels are configured.
type ChannelSet interface {
	Enabled(kind delivery.Kind) bool
}

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config     *config.Config
	models     ModelLister
	channels   ChannelSet
	recognizer bool
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config, models ModelLister, channels ChannelSet, recognizer bool) *ConfigHandler {
	return &ConfigHandler{
		config:     cfg,
		models:     models,
		channels:   channels,
		recognizer: recognizer,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Models      []ai.ModelInfo `json:"models"`
	Channels    []ChannelInfo  `json:"channels"`
	Recognition bool           `json:"recognition"`
	Threshold   float64        `json:"match_threshold"`
}

// ChannelInfo represents a delivery channel and whether it can be used
type ChannelInfo struct {
	Kind      delivery.Kind `json:"kind"`
	Available bool          `json:"available"`
}

// Get returns the available configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	models := []ai.ModelInfo{}
	if h.models != nil {
		models = append(models, h.models.Models()...)
	}

	channels := make([]ChannelInfo, 0, 2)
	for _, kind := range []delivery.Kind{delivery.KindTelegram, delivery.KindEmail} {
		channels = append(channels, ChannelInfo{
			Kind:      kind,
			Available: h.channels != nil && h.channels.Enabled(kind),
		})
	}

	respondJSON(w, http.StatusOK, ConfigResponse{
		Models:      models,
		Channels:    channels,
		Recognition: h.recognizer,
		Threshold:   h.config.Matching.Threshold,
	})
}
