// Package mock provides a canned vision provider for development and tests.
package mock

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/menulens/api/pkg/dishkey"
	"github.com/menulens/api/pkg/models"
)

// onePixelJPEG is a valid 1x1 white JPEG, base64-encoded.
const onePixelJPEG = "/9j/4AAQSkZJRgABAQEAYABgAAD/2wBDAAgGBgcGBQgHBwcJCQgKDBQNDAsLDBkSEw8UHRofHh0aHBwgJC4nICIsIxwcKDcpLDAxNDQ0Hyc5PTgyPC4zNDL/wAALCAABAAEBAREA/8QAFAABAAAAAAAAAAAAAAAAAAAACf/EABQQAQAAAAAAAAAAAAAAAAAAAAD/2gAIAQEAAD8AVN//2Q=="

// OnePixelJPEG returns the canned generated image. Exported so tests
// elsewhere can use it as a JPEG fixture.
func OnePixelJPEG() []byte {
	raw, err := base64.StdEncoding.DecodeString(onePixelJPEG)
	if err != nil {
		panic(err)
	}
	return raw
}

var cannedNames = []string{"親子丼", "焼き鳥 ねぎま", "だし巻き玉子", "冷奴"}

var cannedMenu = func() map[string]models.TranslatedDish {
	dishes := []models.TranslatedDish{
		{
			OriginalName:   "親子丼",
			TranslatedName: "親子丼（雞肉滑蛋蓋飯）",
			Description:    "嫩滑雞肉與半熟蛋汁鋪在熱飯上，甘甜醬香。",
			Tags:           []string{"雞肉", "丼飯", "招牌"},
			Romanji:        "Oyakodon",
			IsTop3:         true,
		},
		{
			OriginalName:   "焼き鳥 ねぎま",
			TranslatedName: "蔥段烤雞肉串",
			Description:    "炭火直烤雞腿肉與青蔥，刷上微甜照燒醬。",
			Tags:           []string{"雞肉", "串燒", "炭烤"},
			Romanji:        "Yakitori Negima",
			IsTop3:         true,
		},
		{
			OriginalName:   "だし巻き玉子",
			TranslatedName: "高湯煎蛋捲",
			Description:    "柴魚高湯打入蛋液層層捲起，鬆軟多汁。",
			Tags:           []string{"雞蛋", "家常", "溫熱"},
			Romanji:        "Dashimaki Tamago",
			IsTop3:         true,
		},
		{
			OriginalName:   "冷奴",
			TranslatedName: "冷豆腐",
			Description:    "冰鎮嫩豆腐佐薑泥蔥花與醬油，清爽開胃。",
			Tags:           []string{"豆腐", "前菜", "清爽"},
			Romanji:        "Hiyayakko",
		},
	}
	m := make(map[string]models.TranslatedDish, len(dishes))
	for _, d := range dishes {
		m[dishkey.Normalize(d.OriginalName)] = d
	}
	return m
}()

// MockProvider implements models.VisionProvider with canned data, or with
// custom behavior when the corresponding Func field is set.
type MockProvider struct {
	Name_ string
	Delay time.Duration // applied before each canned reply

	ExtractFunc   func(ctx context.Context, req models.ExtractRequest) (*models.ExtractResult, error)
	TranslateFunc func(ctx context.Context, req models.TranslateRequest) (*models.TranslateResult, error)
	ImageFunc     func(ctx context.Context, req models.ImageRequest) ([]byte, error)
}

func (m *MockProvider) Name() string {
	if m.Name_ != "" {
		return m.Name_
	}
	return "mock"
}

func (m *MockProvider) ExtractDishNames(ctx context.Context, req models.ExtractRequest) (*models.ExtractResult, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, req)
	}
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}
	return &models.ExtractResult{DishNames: append([]string(nil), cannedNames...)}, nil
}

func (m *MockProvider) TranslateDishes(ctx context.Context, req models.TranslateRequest) (*models.TranslateResult, error) {
	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, req)
	}
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}

	// Echo the requested keys so results join back like a real reply.
	items := make([]models.TranslatedDish, 0, len(req.Dishes))
	for _, d := range req.Dishes {
		item, ok := cannedMenu[d.DishKey]
		if !ok {
			item = models.TranslatedDish{
				TranslatedName: "招牌料理",
				Description:    "店家推薦的人氣料理。",
				Tags:           []string{"推薦"},
			}
		}
		item.DishKey = d.DishKey
		item.OriginalName = d.OriginalName
		items = append(items, item)
	}
	return &models.TranslateResult{Items: items}, nil
}

func (m *MockProvider) GenerateDishImage(ctx context.Context, req models.ImageRequest) ([]byte, error) {
	if m.ImageFunc != nil {
		return m.ImageFunc(ctx, req)
	}
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}
	return OnePixelJPEG(), nil
}

// NewProvider creates a mock with canned menu data.
func NewProvider() *MockProvider {
	return &MockProvider{}
}

// NewFailingProvider creates a mock where every call fails with err.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "failing-mock",
		ExtractFunc: func(ctx context.Context, req models.ExtractRequest) (*models.ExtractResult, error) {
			return nil, err
		},
		TranslateFunc: func(ctx context.Context, req models.TranslateRequest) (*models.TranslateResult, error) {
			return nil, err
		},
		ImageFunc: func(ctx context.Context, req models.ImageRequest) ([]byte, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider creates a mock that blocks until the context is done,
// then reports an inference timeout.
func NewTimeoutProvider() *MockProvider {
	stall := func(ctx context.Context) error {
		<-ctx.Done()
		return models.ErrInferenceTimeout
	}
	return &MockProvider{
		Name_: "timeout-mock",
		ExtractFunc: func(ctx context.Context, req models.ExtractRequest) (*models.ExtractResult, error) {
			return nil, stall(ctx)
		},
		TranslateFunc: func(ctx context.Context, req models.TranslateRequest) (*models.TranslateResult, error) {
			return nil, stall(ctx)
		},
		ImageFunc: func(ctx context.Context, req models.ImageRequest) ([]byte, error) {
			return nil, stall(ctx)
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Compile-time check that MockProvider implements the provider interface.
var _ models.VisionProvider = (*MockProvider)(nil)
