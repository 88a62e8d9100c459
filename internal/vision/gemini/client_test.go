package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/pkg/models"
)

// --- helpers ---

func geminiServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func newTestClient(t *testing.T, baseURL string, retries int) *Client {
	t.Helper()
	cfg := config.VisionConfig{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		CallTimeout:  5 * time.Second,
		ImageTimeout: 5 * time.Second,
		MaxRetries:   retries,
	}
	return NewClient(cfg, "gemini-2.5-flash", "gemini-image")
}

func textReply(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	resp := generateResponse{
		Candidates: []candidate{{
			Content:      content{Parts: []part{{Text: text}}},
			FinishReason: "STOP",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func decodeRequest(t *testing.T, r *http.Request) generateRequest {
	t.Helper()
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
	return req
}

// --- ExtractDishNames tests ---

func TestExtractDishNames_ValidResponse(t *testing.T) {
	image := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01}

	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.5-flash:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header: %q", got)
		}

		req := decodeRequest(t, r)
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Fatalf("expected 1 content with 2 parts, got %+v", req.Contents)
		}
		if !strings.Contains(req.Contents[0].Parts[0].Text, "dish_strings") {
			t.Errorf("prompt does not pin the response shape")
		}
		inline := req.Contents[0].Parts[1].InlineData
		if inline == nil || inline.MIMEType != "image/jpeg" {
			t.Fatalf("expected inline jpeg part, got %+v", inline)
		}
		if inline.Data != base64.StdEncoding.EncodeToString(image) {
			t.Errorf("inline data does not match input image")
		}
		if req.GenerationConfig == nil || req.GenerationConfig.ResponseMIMEType != "application/json" {
			t.Errorf("expected JSON response mime type, got %+v", req.GenerationConfig)
		}

		textReply(t, w, `{"dish_strings": ["親子丼", "冷奴"]}`)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	res, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: image, Language: "zh-TW"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.DishNames) != 2 {
		t.Fatalf("expected 2 dish names, got %d", len(res.DishNames))
	}
	if res.DishNames[0] != "親子丼" {
		t.Errorf("unexpected first dish: %q", res.DishNames[0])
	}
}

func TestExtractDishNames_FencedResponse(t *testing.T) {
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		textReply(t, w, "```json\n{\"dish_strings\": [\"冷奴\"]}\n```")
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	res, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.DishNames) != 1 || res.DishNames[0] != "冷奴" {
		t.Errorf("unexpected result: %+v", res.DishNames)
	}
}

func TestExtractDishNames_RejectNotMenu(t *testing.T) {
	var calls atomic.Int32
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		textReply(t, w, `{"dish_strings": [], "reject_reason": "not_menu"}`)
	})
	defer ts.Close()

	// Retries configured, but a rejected image must not be retried.
	c := newTestClient(t, ts.URL, 2)
	_, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: []byte{1}})
	if !errors.Is(err, models.ErrNotMenu) {
		t.Fatalf("expected ErrNotMenu, got: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestExtractDishNames_RejectTooBlurry(t *testing.T) {
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		textReply(t, w, `{"dish_strings": [], "reject_reason": "too_blurry"}`)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	_, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: []byte{1}})
	if !errors.Is(err, models.ErrTooBlurry) {
		t.Fatalf("expected ErrTooBlurry, got: %v", err)
	}
}

func TestExtractDishNames_RetriesMalformedReply(t *testing.T) {
	var calls atomic.Int32
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			textReply(t, w, "Sure! Here are the dishes I found:")
			return
		}
		textReply(t, w, `{"dish_strings": ["親子丼"]}`)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 2)
	res, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.DishNames) != 1 {
		t.Fatalf("expected 1 dish, got %d", len(res.DishNames))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestExtractDishNames_ServerError(t *testing.T) {
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	_, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: []byte{1}})
	if !errors.Is(err, models.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got: %v", err)
	}
}

func TestExtractDishNames_RateLimited(t *testing.T) {
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	_, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: []byte{1}})
	if !errors.Is(err, models.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got: %v", err)
	}
}

func TestExtractDishNames_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 2)
	_, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: []byte{1}})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if errors.Is(err, models.ErrProviderUnavailable) {
		t.Errorf("a 400 is not an outage: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestExtractDishNames_Timeout(t *testing.T) {
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.ExtractDishNames(ctx, models.ExtractRequest{ImageJPEG: []byte{1}})
	if !errors.Is(err, models.ErrInferenceTimeout) {
		t.Fatalf("expected ErrInferenceTimeout, got: %v", err)
	}
}

func TestExtractDishNames_ConnectionRefused(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", 0)
	_, err := c.ExtractDishNames(context.Background(), models.ExtractRequest{ImageJPEG: []byte{1}})
	if !errors.Is(err, models.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got: %v", err)
	}
}

// --- TranslateDishes tests ---

func TestTranslateDishes_ValidResponse(t *testing.T) {
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		prompt := req.Contents[0].Parts[0].Text
		if !strings.Contains(prompt, "Traditional Chinese") {
			t.Errorf("prompt missing target language: %q", prompt)
		}
		if !strings.Contains(prompt, "親子丼") {
			t.Errorf("prompt missing input dish")
		}

		textReply(t, w, `{"menu_items": [
			{"dish_key": "親子丼", "original_name": "親子丼",
			 "translated_name": "親子丼（雞肉滑蛋蓋飯）",
			 "description": "嫩滑雞肉與半熟蛋汁鋪在熱飯上。",
			 "tags": ["雞肉", "丼飯"], "romanji": "Oyakodon", "is_top3": true}
		]}`)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	res, err := c.TranslateDishes(context.Background(), models.TranslateRequest{
		Language: "zh-TW",
		Dishes:   []models.DishRef{{DishKey: "親子丼", OriginalName: "親子丼"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(res.Items))
	}
	item := res.Items[0]
	if item.DishKey != "親子丼" {
		t.Errorf("unexpected dish key: %q", item.DishKey)
	}
	if item.TranslatedName != "親子丼（雞肉滑蛋蓋飯）" {
		t.Errorf("unexpected translated name: %q", item.TranslatedName)
	}
	if !item.IsTop3 {
		t.Errorf("expected is_top3 to survive decoding")
	}
}

func TestTranslateDishes_EmptyInputSkipsCall(t *testing.T) {
	var calls atomic.Int32
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	res, err := c.TranslateDishes(context.Background(), models.TranslateRequest{Language: "zh-TW"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 0 {
		t.Errorf("expected empty result, got %d items", len(res.Items))
	}
	if calls.Load() != 0 {
		t.Errorf("expected no HTTP call, got %d", calls.Load())
	}
}

func TestTranslateDishes_MissingKeyRejected(t *testing.T) {
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		textReply(t, w, `{"menu_items": [{"translated_name": "冷豆腐"}]}`)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	_, err := c.TranslateDishes(context.Background(), models.TranslateRequest{
		Language: "zh-TW",
		Dishes:   []models.DishRef{{DishKey: "冷奴", OriginalName: "冷奴"}},
	})
	if !errors.Is(err, models.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got: %v", err)
	}
}

// --- GenerateDishImage tests ---

func TestGenerateDishImage_ValidResponse(t *testing.T) {
	img := []byte{0xff, 0xd8, 0xff, 0xdb, 0x00, 0x43}

	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-image:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		req := decodeRequest(t, r)
		if req.GenerationConfig == nil || len(req.GenerationConfig.ResponseModalities) != 2 {
			t.Errorf("expected TEXT+IMAGE modalities, got %+v", req.GenerationConfig)
		}

		resp := generateResponse{
			Candidates: []candidate{{
				Content: content{Parts: []part{
					{Text: "Here is the illustration."},
					{InlineData: &inlineData{MIMEType: "image/png", Data: base64.StdEncoding.EncodeToString(img)}},
				}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	got, err := c.GenerateDishImage(context.Background(), models.ImageRequest{Prompt: "Dish: 親子丼."})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(img) {
		t.Errorf("image bytes do not match")
	}
}

func TestGenerateDishImage_NoImageInReply(t *testing.T) {
	ts := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		textReply(t, w, "I cannot draw that.")
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL, 0)
	_, err := c.GenerateDishImage(context.Background(), models.ImageRequest{Prompt: "Dish: 冷奴."})
	if !errors.Is(err, models.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got: %v", err)
	}
}
