package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/menulens/api/pkg/models"
)

// Schemas pin the JSON shapes the prompts ask for. Responses are validated
// before decoding so a malformed reply surfaces as ErrInvalidResponse
// instead of silently producing empty results.

var extractSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"dish_strings": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"reject_reason": map[string]any{
			"type": "string",
			"enum": []any{"not_menu", "too_blurry"},
		},
	},
	"required":             []any{"dish_strings"},
	"additionalProperties": false,
}

var translateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"menu_items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"dish_key":        map[string]any{"type": "string", "minLength": 1},
					"original_name":   map[string]any{"type": "string"},
					"translated_name": map[string]any{"type": "string"},
					"description":     map[string]any{"type": "string"},
					"tags": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"romanji": map[string]any{"type": "string"},
					"is_top3": map[string]any{"type": "boolean"},
				},
				"required": []any{"dish_key", "translated_name"},
			},
		},
	},
	"required": []any{"menu_items"},
}

var (
	extractValidator   = mustCompile("extract.json", extractSchema)
	translateValidator = mustCompile("translate.json", translateSchema)
)

func mustCompile(name string, schema map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshaling schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("adding schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compiling schema %s: %v", name, err))
	}
	return s
}

type extractResponse struct {
	DishStrings  []string `json:"dish_strings"`
	RejectReason string   `json:"reject_reason"`
}

type translateResponse struct {
	MenuItems []models.TranslatedDish `json:"menu_items"`
}

// decodeExtractResponse validates and decodes an OCR reply. A reject_reason
// maps to the matching sentinel.
func decodeExtractResponse(raw []byte) (*models.ExtractResult, error) {
	raw = stripFences(raw)

	if err := validate(raw, extractValidator); err != nil {
		return nil, err
	}

	var resp extractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}

	switch resp.RejectReason {
	case "not_menu":
		return nil, models.ErrNotMenu
	case "too_blurry":
		return nil, models.ErrTooBlurry
	}
	return &models.ExtractResult{DishNames: resp.DishStrings}, nil
}

func decodeTranslateResponse(raw []byte) (*models.TranslateResult, error) {
	raw = stripFences(raw)

	if err := validate(raw, translateValidator); err != nil {
		return nil, err
	}

	var resp translateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	return &models.TranslateResult{Items: resp.MenuItems}, nil
}

func validate(raw []byte, schema *jsonschema.Schema) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	return nil
}

// stripFences removes a markdown code fence around a JSON body. Models
// occasionally wrap replies despite being told not to.
func stripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}
