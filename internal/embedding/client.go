// Package embedding calls the optional image-embedding sidecar used for
// near-duplicate menu detection. Callers treat every error as a cache miss,
// so an outage here degrades matching instead of failing scans.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for embedding sidecar failures.
var (
	ErrUnavailable   = errors.New("embedding service unavailable")
	ErrRequestFailed = errors.New("embedding request failed")
)

// Client is the interface for the embedding sidecar.
type Client interface {
	// Embed computes an embedding for a menu photo and returns its id.
	Embed(ctx context.Context, imageJPEG []byte) (string, error)

	// Similarity scores a stored embedding against candidate ids,
	// returning cosine similarity per candidate in [0, 1].
	Similarity(ctx context.Context, embeddingID string, candidateIDs []string) (map[string]float64, error)
}

// HTTPClient implements Client against the sidecar's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new embedding sidecar client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Embed(ctx context.Context, imageJPEG []byte) (string, error) {
	body := embedRequest{ImageBase64: base64.StdEncoding.EncodeToString(imageJPEG)}

	var resp embedResponse
	if err := c.post(ctx, "/embed", body, &resp); err != nil {
		return "", err
	}
	if resp.EmbeddingID == "" {
		return "", fmt.Errorf("%w: empty embedding id", ErrRequestFailed)
	}
	return resp.EmbeddingID, nil
}

func (c *HTTPClient) Similarity(ctx context.Context, embeddingID string, candidateIDs []string) (map[string]float64, error) {
	if len(candidateIDs) == 0 {
		return map[string]float64{}, nil
	}

	body := similarityRequest{EmbeddingID: embeddingID, CandidateIDs: candidateIDs}

	var resp similarityResponse
	if err := c.post(ctx, "/similarity", body, &resp); err != nil {
		return nil, err
	}
	if resp.Scores == nil {
		return map[string]float64{}, nil
	}
	return resp.Scores, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// --- sidecar API types ---

type embedRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type embedResponse struct {
	EmbeddingID string `json:"embedding_id"`
}

type similarityRequest struct {
	EmbeddingID  string   `json:"embedding_id"`
	CandidateIDs []string `json:"candidate_ids"`
}

type similarityResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
