package models

import (
	"context"
	"errors"
)

// Sentinel errors vision providers classify their failures into. Callers
// branch on these with errors.Is; anything else is an internal provider
// fault.
var (
	ErrProviderUnavailable = errors.New("vision provider unavailable")
	ErrInferenceTimeout    = errors.New("vision inference timed out")
	ErrInvalidResponse     = errors.New("vision provider returned an unparseable response")
	ErrNotMenu             = errors.New("image does not contain a menu")
	ErrTooBlurry           = errors.New("image too blurry to read")
)

// ExtractRequest asks a provider to read dish names off a menu photo.
type ExtractRequest struct {
	ImageJPEG []byte
	Language  string
}

// ExtractResult is the raw list of dish name strings in menu order.
type ExtractResult struct {
	DishNames []string
}

// DishRef identifies one dish to translate.
type DishRef struct {
	DishKey      string `json:"dish_key"`
	OriginalName string `json:"original_name"`
}

// TranslateRequest asks a provider to translate and describe a batch of
// dishes into the target language.
type TranslateRequest struct {
	Language string
	Dishes   []DishRef
}

// TranslatedDish is one translated entry. DishKey echoes the key from the
// request so results can be joined back regardless of response order.
type TranslatedDish struct {
	DishKey        string   `json:"dish_key"`
	OriginalName   string   `json:"original_name"`
	TranslatedName string   `json:"translated_name"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	Romanji        string   `json:"romanji,omitempty"`
	IsTop3         bool     `json:"is_top3"`
	ImagePrompt    string   `json:"image_prompt,omitempty"`
}

// TranslateResult carries the translated batch.
type TranslateResult struct {
	Items []TranslatedDish
}

// ImageRequest asks a provider to render a dish illustration.
type ImageRequest struct {
	Prompt string
}

// VisionProvider is implemented by each model backend (gemini, mock).
// Implementations must honor ctx cancellation and deadlines: callers derive
// per-call deadlines from the remaining scan budget.
type VisionProvider interface {
	// ExtractDishNames reads the dish names visible in a menu photo.
	ExtractDishNames(ctx context.Context, req ExtractRequest) (*ExtractResult, error)

	// TranslateDishes translates and describes the given dishes.
	TranslateDishes(ctx context.Context, req TranslateRequest) (*TranslateResult, error)

	// GenerateDishImage renders a JPEG illustration for one dish.
	GenerateDishImage(ctx context.Context, req ImageRequest) ([]byte, error)

	// Name returns the provider identifier for logging.
	Name() string
}
