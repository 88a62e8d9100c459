// Package vision selects and constructs the model backend used for menu
// reading, translation and dish illustration.
package vision

import (
	"fmt"

	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/internal/vision/gemini"
	"github.com/menulens/api/internal/vision/mock"
	"github.com/menulens/api/pkg/models"
)

// NewProvider creates a vision provider based on the configured provider type.
func NewProvider(cfg config.VisionConfig) (models.VisionProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewClient(cfg, cfg.VLMModel, cfg.ImageModel), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q: must be one of gemini, mock", cfg.Provider)
	}
}

// NewFallbackProvider creates the degraded-mode provider used when the
// primary model keeps failing. Returns nil when no fallback is configured;
// a nil provider disables the fallback pass.
func NewFallbackProvider(cfg config.VisionConfig) models.VisionProvider {
	if cfg.Provider != "gemini" || cfg.FallbackVLMModel == "" {
		return nil
	}
	imageModel := cfg.FallbackImage
	if imageModel == "" {
		imageModel = cfg.ImageModel
	}
	return gemini.NewClient(cfg, cfg.FallbackVLMModel, imageModel)
}
