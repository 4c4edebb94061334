// Package catalog provides read-only access to learning content.
//
// The engine never writes to a catalog. A StaticCatalog is immutable after
// construction and may be shared across goroutines.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

// ErrDuplicateID is returned when two items share an ID.
var ErrDuplicateID = errors.New("duplicate content id")

// Catalog lists candidate content for ranking.
type Catalog interface {
	// ListCandidates returns the items matching filter in catalog order.
	ListCandidates(ctx context.Context, filter Filter) ([]intelligence.ContentItem, error)
}

// Filter narrows a candidate listing. Empty fields do not filter.
type Filter struct {
	// IDs restricts the listing to these item IDs.
	IDs []string

	// Levels restricts the listing to these levels.
	Levels []intelligence.Level

	// Categories restricts the listing to these categories.
	Categories []string

	// ExcludeIDs removes these item IDs from the listing.
	ExcludeIDs []string

	// Limit caps the number of returned items. Zero means no limit.
	Limit int
}

// StaticCatalog serves a fixed set of items held in memory.
type StaticCatalog struct {
	items []intelligence.ContentItem
	index map[string]int
}

// NewStaticCatalog builds a catalog from items. Items with an empty ID or an
// invalid level are rejected, as are duplicate IDs.
func NewStaticCatalog(items []intelligence.ContentItem) (*StaticCatalog, error) {
	c := &StaticCatalog{
		items: make([]intelligence.ContentItem, 0, len(items)),
		index: make(map[string]int, len(items)),
	}
	for i, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("item %d: empty id", i)
		}
		if !item.Level.Valid() {
			return nil, fmt.Errorf("item %s: %w: %q", item.ID, intelligence.ErrInvalidLevel, item.Level)
		}
		if _, dup := c.index[item.ID]; dup {
			return nil, fmt.Errorf("item %s: %w", item.ID, ErrDuplicateID)
		}
		c.index[item.ID] = len(c.items)
		c.items = append(c.items, item)
	}
	return c, nil
}

// LoadJSONFile reads a JSON array of content items from path.
func LoadJSONFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadJSONFile: %w", err)
	}

	var items []intelligence.ContentItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("LoadJSONFile %s: %w", path, err)
	}
	return NewStaticCatalog(items)
}

// Len returns the number of items.
func (c *StaticCatalog) Len() int {
	return len(c.items)
}

// Get returns the item with id.
func (c *StaticCatalog) Get(id string) (intelligence.ContentItem, bool) {
	i, ok := c.index[id]
	if !ok {
		return intelligence.ContentItem{}, false
	}
	return c.items[i], true
}

// Categories returns the distinct categories in sorted order.
func (c *StaticCatalog) Categories() []string {
	seen := make(map[string]struct{})
	for _, item := range c.items {
		if item.Category != "" {
			seen[item.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// ListCandidates implements Catalog.
func (c *StaticCatalog) ListCandidates(ctx context.Context, filter Filter) ([]intelligence.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := toSet(filter.IDs)
	excluded := toSet(filter.ExcludeIDs)
	categories := toSet(filter.Categories)
	levels := make(map[intelligence.Level]struct{}, len(filter.Levels))
	for _, l := range filter.Levels {
		levels[l] = struct{}{}
	}

	out := make([]intelligence.ContentItem, 0, len(c.items))
	for _, item := range c.items {
		if len(ids) > 0 && !has(ids, item.ID) {
			continue
		}
		if has(excluded, item.ID) {
			continue
		}
		if len(categories) > 0 && !has(categories, item.Category) {
			continue
		}
		if len(levels) > 0 {
			if _, ok := levels[item.Level]; !ok {
				continue
			}
		}
		out = append(out, item)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func has(set map[string]struct{}, v string) bool {
	_, ok := set[v]
	return ok
}
