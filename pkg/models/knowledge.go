package models

import "time"

// DishKnowledge is one learned dish in one target language. Rows are merged
// on write: text fields only fill blanks and are never overwritten, while
// SeenCount grows with every sighting.
type DishKnowledge struct {
	DishKey        string    `db:"dish_key" json:"dish_key"`
	Language       string    `db:"language" json:"language"`
	TranslatedName string    `db:"translated_name" json:"translated_name"`
	Description    string    `db:"description" json:"description"`
	Tags           []string  `db:"tags" json:"tags"`
	Romanji        string    `db:"romanji" json:"romanji"`
	SeenCount      int       `db:"seen_count" json:"seen_count"`
	LastSeenAt     time.Time `db:"last_seen_at" json:"last_seen_at"`
	SourceScanID   string    `db:"source_scan_id" json:"source_scan_id"`
}

// ScanRecordItem couples a delivered menu item with its canonical dish key
// inside a stored scan record.
type ScanRecordItem struct {
	DishKey string `json:"dish_key"`
	MenuItem
}

// ScanRecord is the durable trace of one finished scan, keyed by the job or
// session id. ImageHash and GeoCell index it for later candidate matching;
// raw coordinates are never stored.
type ScanRecord struct {
	ScanID         string           `db:"scan_id" json:"scan_id"`
	ImageHash      string           `db:"image_hash_sha256" json:"image_hash_sha256"`
	EmbeddingID    string           `db:"embedding_id" json:"embedding_id,omitempty"`
	GeoCell        string           `db:"geo_cell" json:"geo_cell,omitempty"`
	SourceLanguage string           `db:"source_language" json:"source_language,omitempty"`
	Language       string           `db:"language" json:"language"`
	Items          []ScanRecordItem `db:"items" json:"items"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}
