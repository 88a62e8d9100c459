// Package match finds prior scans that can answer a new photo before any
// model call is made: exact byte matches, nearby restaurants, and
// near-duplicate images. Every lookup fails open; a store or sidecar
// outage degrades the scan to a cold start.
package match

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/internal/embedding"
	"github.com/menulens/api/pkg/models"
)

// RecordSource is the slice of the store the matcher reads.
type RecordSource interface {
	ListScanRecordsByHash(ctx context.Context, imageHash string, limit int) ([]*models.ScanRecord, error)
	ListScanRecordsByGeoCells(ctx context.Context, cells []string, limit int) ([]*models.ScanRecord, error)
}

// Result summarizes what prior scans tell us about a new photo.
//
// ImageHash is always set. Exact is a record with identical image bytes.
// Near holds geo and embedding neighbors, most recent first. PriorityKeys
// are dish keys seen in those records, deduplicated, exact match first;
// the pipeline warms its knowledge lookup with them.
type Result struct {
	ImageHash    string
	EmbeddingID  string
	GeoCell      string
	Exact        *models.ScanRecord
	Near         []*models.ScanRecord
	PriorityKeys []string
}

// Matcher runs the lookup phases. A nil embedder disables near-duplicate
// detection.
type Matcher struct {
	source   RecordSource
	embedder embedding.Client
	cfg      config.MatchConfig
}

func NewMatcher(source RecordSource, embedder embedding.Client, cfg config.MatchConfig) *Matcher {
	return &Matcher{source: source, embedder: embedder, cfg: cfg}
}

// Match never fails: lookup errors are logged and leave the corresponding
// hint empty.
func (m *Matcher) Match(ctx context.Context, imageJPEG []byte, loc *models.GeoPoint) *Result {
	sum := sha256.Sum256(imageJPEG)
	res := &Result{ImageHash: hex.EncodeToString(sum[:])}

	seen := map[string]bool{}

	// Exact byte match.
	records, err := m.source.ListScanRecordsByHash(ctx, res.ImageHash, 1)
	if err != nil {
		slog.Warn("hash lookup failed", "error", err)
	} else if len(records) > 0 {
		res.Exact = records[0]
		seen[res.Exact.ScanID] = true
	}

	// Restaurants around the fix.
	if loc != nil {
		res.GeoCell = Cell(loc.Lat, loc.Lon)
		radius := RadiusForAccuracy(m.cfg.GeoRadiusMinMeters, loc.AccuracyM)
		cells := CoverRadius(loc.Lat, loc.Lon, radius)

		neighbors, err := m.source.ListScanRecordsByGeoCells(ctx, cells, m.cfg.CandidateLimit)
		if err != nil {
			slog.Warn("geo lookup failed", "error", err)
		} else {
			for _, rec := range neighbors {
				if !seen[rec.ScanID] {
					seen[rec.ScanID] = true
					res.Near = append(res.Near, rec)
				}
			}
		}
	}

	// Near-duplicate image among the candidates found so far.
	if m.embedder != nil {
		m.rankByEmbedding(ctx, imageJPEG, res)
	}

	res.PriorityKeys = collectKeys(res)
	return res
}

// rankByEmbedding computes the photo's embedding and moves candidates
// whose similarity clears the threshold to the front of Near.
func (m *Matcher) rankByEmbedding(ctx context.Context, imageJPEG []byte, res *Result) {
	id, err := m.embedder.Embed(ctx, imageJPEG)
	if err != nil {
		slog.Warn("embedding failed", "error", err)
		return
	}
	res.EmbeddingID = id

	candidates := map[string]*models.ScanRecord{}
	var ids []string
	for _, rec := range res.Near {
		if rec.EmbeddingID != "" {
			candidates[rec.EmbeddingID] = rec
			ids = append(ids, rec.EmbeddingID)
		}
	}
	if len(ids) == 0 {
		return
	}

	scores, err := m.embedder.Similarity(ctx, id, ids)
	if err != nil {
		slog.Warn("similarity failed", "error", err)
		return
	}

	var dup, rest []*models.ScanRecord
	for _, rec := range res.Near {
		if rec.EmbeddingID != "" && scores[rec.EmbeddingID] >= m.cfg.SimilarityThreshold {
			dup = append(dup, rec)
		} else {
			rest = append(rest, rec)
		}
	}
	res.Near = append(dup, rest...)
}

func collectKeys(res *Result) []string {
	var keys []string
	seen := map[string]bool{}
	add := func(rec *models.ScanRecord) {
		for _, item := range rec.Items {
			if item.DishKey != "" && !seen[item.DishKey] {
				seen[item.DishKey] = true
				keys = append(keys, item.DishKey)
			}
		}
	}
	if res.Exact != nil {
		add(res.Exact)
	}
	for _, rec := range res.Near {
		add(rec)
	}
	return keys
}
