package models

// Image generation states carried on a menu item.
const (
	ImageStatusNone       = "none"
	ImageStatusPending    = "pending"
	ImageStatusGenerating = "generating"
	ImageStatusReady      = "ready"
	ImageStatusFailed     = "failed"
)

// MenuItem is one dish as delivered to clients inside menu_data events and
// job snapshots. An item with an empty TranslatedName is unresolved: the
// dish was read off the menu but not yet translated.
type MenuItem struct {
	ID             string   `json:"id"`
	OriginalName   string   `json:"original_name"`
	TranslatedName string   `json:"translated_name"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	Romanji        string   `json:"romanji,omitempty"`
	IsTop3         bool     `json:"is_top3"`
	ImageStatus    string   `json:"image_status"`
	ImageURL       string   `json:"image_url,omitempty"`
	ImagePrompt    string   `json:"image_prompt,omitempty"`
}

// Resolved reports whether the item carries a usable translation.
func (m *MenuItem) Resolved() bool {
	return m.TranslatedName != ""
}
