// Package gemini implements models.VisionProvider against the Gemini
// generateContent REST API. Prompting, response schemas and retry policy
// are private to this package; callers see only the typed provider
// interface and the sentinel errors in pkg/models.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/pkg/models"
)

// Client calls one Gemini text model and one image model. The factory
// builds two of these: the primary and, when configured, a cheaper
// fallback.
type Client struct {
	baseURL     string
	apiKey      string
	vlmModel    string
	imageModel  string
	maxRetries  int
	client      *http.Client
	imageClient *http.Client
}

// NewClient creates a Gemini client for the given model pair.
func NewClient(cfg config.VisionConfig, vlmModel, imageModel string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		vlmModel:    vlmModel,
		imageModel:  imageModel,
		maxRetries:  cfg.MaxRetries,
		client:      &http.Client{Timeout: cfg.CallTimeout},
		imageClient: &http.Client{Timeout: cfg.ImageTimeout},
	}
}

// Name returns the text model id. It doubles as the display name in logs
// and in the degraded-mode status message.
func (c *Client) Name() string { return c.vlmModel }

func (c *Client) ExtractDishNames(ctx context.Context, req models.ExtractRequest) (*models.ExtractResult, error) {
	parts := []part{
		{Text: extractPrompt},
		{InlineData: &inlineData{
			MIMEType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(req.ImageJPEG),
		}},
	}

	var result *models.ExtractResult
	err := c.withRetry(ctx, func() error {
		text, err := c.generateText(ctx, c.vlmModel, parts)
		if err != nil {
			return retryClass(err)
		}
		decoded, err := decodeExtractResponse([]byte(text))
		if err != nil {
			return retryClass(err)
		}
		result = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) TranslateDishes(ctx context.Context, req models.TranslateRequest) (*models.TranslateResult, error) {
	if len(req.Dishes) == 0 {
		return &models.TranslateResult{}, nil
	}

	parts := []part{{Text: translatePrompt(req.Language, req.Dishes)}}

	var result *models.TranslateResult
	err := c.withRetry(ctx, func() error {
		text, err := c.generateText(ctx, c.vlmModel, parts)
		if err != nil {
			return retryClass(err)
		}
		decoded, err := decodeTranslateResponse([]byte(text))
		if err != nil {
			return retryClass(err)
		}
		result = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) GenerateDishImage(ctx context.Context, req models.ImageRequest) ([]byte, error) {
	body := generateRequest{
		Contents:         []content{{Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}

	var img []byte
	err := c.withRetry(ctx, func() error {
		resp, err := c.generate(ctx, c.imageModel, body, c.imageClient)
		if err != nil {
			return retryClass(err)
		}
		data, err := firstInlineImage(resp)
		if err != nil {
			return retryClass(err)
		}
		img = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// generateText runs a text-out call and returns the first candidate text.
func (c *Client) generateText(ctx context.Context, model string, parts []part) (string, error) {
	resp, err := c.generate(ctx, model, generateRequest{
		Contents:         []content{{Parts: parts}},
		GenerationConfig: &generationConfig{ResponseMIMEType: "application/json"},
	}, c.client)
	if err != nil {
		return "", err
	}
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no text candidate in reply", models.ErrInvalidResponse)
}

func (c *Client) generate(ctx context.Context, model string, body generateRequest, hc *http.Client) (*generateResponse, error) {
	reqID := uuid.NewString()
	start := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := hc.Do(httpReq)
	if err != nil {
		classified := classifyError(err)
		slog.Warn("gemini call failed", "req_id", reqID, "model", model,
			"elapsed_ms", time.Since(start).Milliseconds(), "error", classified)
		return nil, classified
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("gemini call failed", "req_id", reqID, "model", model,
			"status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", models.ErrProviderUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("gemini rejected request: status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}

	slog.Debug("gemini call", "req_id", reqID, "model", model,
		"elapsed_ms", time.Since(start).Milliseconds())
	return &out, nil
}

// withRetry reruns op with exponential backoff, bounded by ctx and the
// configured retry count.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx))
}

// retryClass marks which failures are worth another attempt. Outages,
// timeouts and malformed replies are transient; rejected images and bad
// requests are permanent.
func retryClass(err error) error {
	switch {
	case errors.Is(err, models.ErrProviderUnavailable),
		errors.Is(err, models.ErrInferenceTimeout),
		errors.Is(err, models.ErrInvalidResponse):
		return err
	default:
		return backoff.Permanent(err)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}

	return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
}

func firstInlineImage(resp *generateResponse) ([]byte, error) {
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: decoding image data: %v", models.ErrInvalidResponse, err)
			}
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%w: no image in reply", models.ErrInvalidResponse)
}

// --- Gemini API types ---

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMIMEType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

// Compile-time check that Client implements the provider interface.
var _ models.VisionProvider = (*Client)(nil)
