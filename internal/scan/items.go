package scan

import (
	"fmt"

	"github.com/menulens/api/pkg/dishkey"
	"github.com/menulens/api/pkg/models"
)

// ItemList holds one scan's menu items in menu order, keyed by dish key,
// and applies the merges the pipeline performs: knowledge reuse, model
// translations, resumed snapshots, and image updates.
//
// It is not safe for concurrent use; the pipeline owns it from a single
// goroutine at a time.
type ItemList struct {
	order []string
	byKey map[string]*models.MenuItem
}

func NewItemList() *ItemList {
	return &ItemList{byKey: make(map[string]*models.MenuItem)}
}

// Ensure adds a dish under its key if unseen and returns its item. Ids are
// assigned from the insertion position, so a resumed scan seeded from its
// snapshot keeps the ids it already published.
func (l *ItemList) Ensure(key, originalName string) *models.MenuItem {
	if it, ok := l.byKey[key]; ok {
		return it
	}
	it := &models.MenuItem{
		ID:           fmt.Sprintf("item-%d", len(l.order)+1),
		OriginalName: originalName,
		Tags:         []string{},
		ImageStatus:  models.ImageStatusNone,
	}
	l.order = append(l.order, key)
	l.byKey[key] = it
	return it
}

// Restore seeds the list from a prior attempt's snapshot, keeping ids and
// any translations already published.
func (l *ItemList) Restore(items []models.MenuItem) {
	for _, it := range items {
		key := dishkey.Normalize(it.OriginalName)
		if key == "" || l.byKey[key] != nil {
			continue
		}
		cp := it
		if cp.Tags == nil {
			cp.Tags = []string{}
		}
		l.order = append(l.order, key)
		l.byKey[key] = &cp
	}
}

// FillFromRecord fills unresolved items from a prior scan's stored items,
// matched by dish key. Keys the current extraction did not produce are
// ignored, so a menu that changed since the prior scan never resurrects
// dishes that are gone. Generated images are never reused, they belong to
// the other scan's assets. Returns how many items got text.
func (l *ItemList) FillFromRecord(items []models.ScanRecordItem) int {
	filled := 0
	for _, ri := range items {
		it, ok := l.byKey[ri.DishKey]
		if !ok || it.Resolved() || ri.TranslatedName == "" {
			continue
		}
		it.TranslatedName = ri.TranslatedName
		it.Description = ri.Description
		if len(ri.Tags) > 0 {
			it.Tags = append([]string(nil), ri.Tags...)
		}
		it.Romanji = ri.Romanji
		if ri.IsTop3 {
			it.IsTop3 = true
		}
		filled++
	}
	return filled
}

// Get returns the item under key, or nil.
func (l *ItemList) Get(key string) *models.MenuItem {
	return l.byKey[key]
}

// Len returns the number of items.
func (l *ItemList) Len() int {
	return len(l.order)
}

// ApplyKnowledge fills an unresolved item from a cached translation.
// Resolved items are left alone. Reports whether the item was filled.
func (l *ItemList) ApplyKnowledge(key string, k *models.DishKnowledge) bool {
	it, ok := l.byKey[key]
	if !ok || it.Resolved() || k == nil || k.TranslatedName == "" {
		return false
	}
	it.TranslatedName = k.TranslatedName
	it.Description = k.Description
	if len(k.Tags) > 0 {
		it.Tags = append([]string(nil), k.Tags...)
	}
	it.Romanji = k.Romanji
	return true
}

// ApplyTranslation merges a model reply into the list. Replies for keys
// never requested are dropped, and an empty translated name leaves the
// item unresolved. Reports whether the item was updated.
func (l *ItemList) ApplyTranslation(t models.TranslatedDish) bool {
	it, ok := l.byKey[t.DishKey]
	if !ok || t.TranslatedName == "" {
		return false
	}
	it.TranslatedName = t.TranslatedName
	it.Description = t.Description
	if len(t.Tags) > 0 {
		it.Tags = append([]string(nil), t.Tags...)
	}
	if t.Romanji != "" {
		it.Romanji = t.Romanji
	}
	if t.IsTop3 {
		it.IsTop3 = true
	}
	return true
}

// MutateByID runs fn on the item with the given id. Reports whether the
// id was found.
func (l *ItemList) MutateByID(id string, fn func(*models.MenuItem)) bool {
	for _, key := range l.order {
		if it := l.byKey[key]; it.ID == id {
			fn(it)
			return true
		}
	}
	return false
}

// NormalizeTop3 enforces at most max highlighted dishes. Flags beyond the
// cap and flags on unresolved items are cleared in menu order; when fewer
// than max dishes are flagged, the first resolved ones are promoted so a
// warm cache-only scan still gets its showcase.
func (l *ItemList) NormalizeTop3(max int) {
	count := 0
	for _, key := range l.order {
		it := l.byKey[key]
		if !it.IsTop3 {
			continue
		}
		if count >= max || !it.Resolved() {
			it.IsTop3 = false
			continue
		}
		count++
	}
	for _, key := range l.order {
		if count >= max {
			break
		}
		it := l.byKey[key]
		if !it.IsTop3 && it.Resolved() {
			it.IsTop3 = true
			count++
		}
	}
}

// Items returns a copy of the list in menu order.
func (l *ItemList) Items() []models.MenuItem {
	out := make([]models.MenuItem, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, *l.byKey[key])
	}
	return out
}

// Top3 returns copies of the highlighted resolved items.
func (l *ItemList) Top3() []models.MenuItem {
	var out []models.MenuItem
	for _, key := range l.order {
		if it := l.byKey[key]; it.IsTop3 && it.Resolved() {
			out = append(out, *it)
		}
	}
	return out
}

// Unresolved returns refs for items still missing a translation.
func (l *ItemList) Unresolved() []models.DishRef {
	var out []models.DishRef
	for _, key := range l.order {
		if it := l.byKey[key]; !it.Resolved() {
			out = append(out, models.DishRef{DishKey: key, OriginalName: it.OriginalName})
		}
	}
	return out
}

// Sparse returns refs for resolved items missing a description or tags,
// candidates for another enrichment pass when budget allows.
func (l *ItemList) Sparse() []models.DishRef {
	var out []models.DishRef
	for _, key := range l.order {
		it := l.byKey[key]
		if it.Resolved() && (it.Description == "" || len(it.Tags) == 0) {
			out = append(out, models.DishRef{DishKey: key, OriginalName: it.OriginalName})
		}
	}
	return out
}

// ResolvedCount returns how many items carry a translation.
func (l *ItemList) ResolvedCount() int {
	n := 0
	for _, key := range l.order {
		if l.byKey[key].Resolved() {
			n++
		}
	}
	return n
}

// KnowledgeRows builds the write-back rows for every resolved item.
func (l *ItemList) KnowledgeRows(language, sourceScanID string) []*models.DishKnowledge {
	var rows []*models.DishKnowledge
	for _, key := range l.order {
		it := l.byKey[key]
		if !it.Resolved() {
			continue
		}
		rows = append(rows, &models.DishKnowledge{
			DishKey:        key,
			Language:       language,
			TranslatedName: it.TranslatedName,
			Description:    it.Description,
			Tags:           append([]string(nil), it.Tags...),
			Romanji:        it.Romanji,
			SourceScanID:   sourceScanID,
		})
	}
	return rows
}

// RecordItems builds the scan-record entries for every item, resolved or
// not; unresolved entries still contribute their dish keys as hints.
func (l *ItemList) RecordItems() []models.ScanRecordItem {
	out := make([]models.ScanRecordItem, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, models.ScanRecordItem{DishKey: key, MenuItem: *l.byKey[key]})
	}
	return out
}
