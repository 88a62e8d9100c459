package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/menulens/api/pkg/models"
)

// Merge rule for repeated sightings of a dish: text fields only fill blanks
// (first writer wins), tags only replace an empty list, seen_count always
// grows, and source_scan_id tracks the most recent contributing scan.
const upsertDishKnowledgeSQL = `
INSERT INTO dish_knowledge
    (dish_key, language, translated_name, description, tags, romanji, seen_count, last_seen_at, source_scan_id)
VALUES ($1, $2, $3, $4, $5, $6, 1, NOW(), $7)
ON CONFLICT (dish_key, language) DO UPDATE SET
    translated_name = CASE WHEN dish_knowledge.translated_name = '' THEN EXCLUDED.translated_name ELSE dish_knowledge.translated_name END,
    description     = CASE WHEN dish_knowledge.description = '' THEN EXCLUDED.description ELSE dish_knowledge.description END,
    tags            = CASE WHEN dish_knowledge.tags = '[]'::jsonb THEN EXCLUDED.tags ELSE dish_knowledge.tags END,
    romanji         = CASE WHEN dish_knowledge.romanji = '' THEN EXCLUDED.romanji ELSE dish_knowledge.romanji END,
    seen_count      = dish_knowledge.seen_count + 1,
    last_seen_at    = NOW(),
    source_scan_id  = CASE WHEN EXCLUDED.source_scan_id = '' THEN dish_knowledge.source_scan_id ELSE EXCLUDED.source_scan_id END`

func (s *PostgresStore) UpsertDishKnowledge(ctx context.Context, rows []*models.DishKnowledge) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		tags, err := marshalTags(row.Tags)
		if err != nil {
			return 0, fmt.Errorf("encode tags for %q: %w", row.DishKey, err)
		}
		batch.Queue(upsertDishKnowledgeSQL,
			row.DishKey, row.Language, row.TranslatedName, row.Description,
			tags, row.Romanji, row.SourceScanID)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	written := 0
	for range rows {
		if _, err := br.Exec(); err != nil {
			return written, fmt.Errorf("upsert dish knowledge: %w", err)
		}
		written++
	}
	return written, nil
}

func (s *PostgresStore) FetchDishKnowledge(ctx context.Context, language string, dishKeys []string) (map[string]*models.DishKnowledge, error) {
	result := make(map[string]*models.DishKnowledge, len(dishKeys))
	if len(dishKeys) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT dish_key, language, translated_name, description, tags, romanji, seen_count, last_seen_at, source_scan_id
		 FROM dish_knowledge
		 WHERE language = $1 AND dish_key = ANY($2)`,
		language, dishKeys)
	if err != nil {
		return nil, fmt.Errorf("fetch dish knowledge: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k models.DishKnowledge
		var tags []byte
		if err := rows.Scan(&k.DishKey, &k.Language, &k.TranslatedName, &k.Description,
			&tags, &k.Romanji, &k.SeenCount, &k.LastSeenAt, &k.SourceScanID); err != nil {
			return nil, fmt.Errorf("scan dish knowledge row: %w", err)
		}
		if err := json.Unmarshal(tags, &k.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %q: %w", k.DishKey, err)
		}
		result[k.DishKey] = &k
	}
	return result, rows.Err()
}

// --- Scan records ---

func (s *PostgresStore) InsertScanRecord(ctx context.Context, rec *models.ScanRecord) (bool, error) {
	items, err := marshalRecordItems(rec.Items)
	if err != nil {
		return false, fmt.Errorf("encode scan record items: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO scan_records (scan_id, image_hash_sha256, embedding_id, geo_cell, source_language, language, items)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
		 ON CONFLICT (scan_id) DO NOTHING`,
		rec.ScanID, rec.ImageHash, rec.EmbeddingID, rec.GeoCell,
		rec.SourceLanguage, rec.Language, items)
	if err != nil {
		return false, fmt.Errorf("insert scan record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListScanRecordsByHash(ctx context.Context, imageHash string, limit int) ([]*models.ScanRecord, error) {
	return s.listScanRecords(ctx,
		`SELECT scan_id, image_hash_sha256, COALESCE(embedding_id, ''), COALESCE(geo_cell, ''), source_language, language, items, created_at
		 FROM scan_records
		 WHERE image_hash_sha256 = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		imageHash, limit)
}

func (s *PostgresStore) ListScanRecordsByGeoCells(ctx context.Context, cells []string, limit int) ([]*models.ScanRecord, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	return s.listScanRecords(ctx,
		`SELECT scan_id, image_hash_sha256, COALESCE(embedding_id, ''), COALESCE(geo_cell, ''), source_language, language, items, created_at
		 FROM scan_records
		 WHERE geo_cell = ANY($1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		cells, limit)
}

func (s *PostgresStore) listScanRecords(ctx context.Context, query string, args ...any) ([]*models.ScanRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scan records: %w", err)
	}
	defer rows.Close()

	var records []*models.ScanRecord
	for rows.Next() {
		var rec models.ScanRecord
		var items []byte
		if err := rows.Scan(&rec.ScanID, &rec.ImageHash, &rec.EmbeddingID, &rec.GeoCell,
			&rec.SourceLanguage, &rec.Language, &items, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		if err := json.Unmarshal(items, &rec.Items); err != nil {
			return nil, fmt.Errorf("decode scan record items: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func marshalTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(tags)
}

func marshalRecordItems(items []models.ScanRecordItem) ([]byte, error) {
	if items == nil {
		items = []models.ScanRecordItem{}
	}
	return json.Marshal(items)
}
