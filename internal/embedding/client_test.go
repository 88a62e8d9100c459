package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	return NewHTTPClient(baseURL, 5*time.Second)
}

func TestEmbed_Valid(t *testing.T) {
	image := []byte{0xff, 0xd8, 0xff}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.ImageBase64 != base64.StdEncoding.EncodeToString(image) {
			t.Errorf("image payload mismatch")
		}
		json.NewEncoder(w).Encode(embedResponse{EmbeddingID: "emb-123"})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	id, err := c.Embed(context.Background(), image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "emb-123" {
		t.Errorf("unexpected id: %q", id)
	}
}

func TestEmbed_EmptyID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	_, err := c.Embed(context.Background(), []byte{1})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got: %v", err)
	}
}

func TestSimilarity_Valid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/similarity" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req similarityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.EmbeddingID != "emb-123" || len(req.CandidateIDs) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(similarityResponse{
			Scores: map[string]float64{"emb-a": 0.995, "emb-b": 0.41},
		})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	scores, err := c.Similarity(context.Background(), "emb-123", []string{"emb-a", "emb-b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores["emb-a"] != 0.995 {
		t.Errorf("unexpected score: %v", scores["emb-a"])
	}
}

func TestSimilarity_NoCandidatesSkipsCall(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	scores, err := c.Similarity(context.Background(), "emb-123", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("expected empty scores")
	}
	if calls.Load() != 0 {
		t.Errorf("expected no HTTP call, got %d", calls.Load())
	}
}

func TestEmbed_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	_, err := c.Embed(context.Background(), []byte{1})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got: %v", err)
	}
}

func TestEmbed_ConnectionRefused(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.Embed(context.Background(), []byte{1})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got: %v", err)
	}
}
