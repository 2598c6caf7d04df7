package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// ContentStore keeps content rows in a map keyed by ID.
type ContentStore struct {
	mu   sync.RWMutex
	rows map[string]cms.Content
}

// NewContentStore returns an empty ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{rows: make(map[string]cms.Content)}
}

// Create stores a new row.
func (s *ContentStore) Create(_ context.Context, c cms.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.ID] = c
	return nil
}

// Update replaces an existing row.
func (s *ContentStore) Update(_ context.Context, c cms.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.ID]; !ok {
		return cms.ErrNotFound
	}
	s.rows[c.ID] = c
	return nil
}

// Delete removes a row by ID.
func (s *ContentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return cms.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// GetBySlug finds one row by type and slug.
func (s *ContentStore) GetBySlug(_ context.Context, ctype cms.ContentType, slug string) (cms.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.rows {
		if c.Type == ctype && c.Slug == slug {
			return c, nil
		}
	}
	return cms.Content{}, cms.ErrNotFound
}

// List returns rows of one type, newest first.
func (s *ContentStore) List(_ context.Context, ctype cms.ContentType, limit, offset int) ([]cms.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cms.Content
	for _, c := range s.rows {
		if c.Type == ctype {
			out = append(out, c)
		}
	}
	sortNewest(out)
	return window(out, limit, offset), nil
}

// ListPublished returns every published row.
func (s *ContentStore) ListPublished(_ context.Context) ([]cms.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cms.Content
	for _, c := range s.rows {
		if c.Status == cms.ContentStatusPublished {
			out = append(out, c)
		}
	}
	sortNewest(out)
	return out, nil
}

// Search matches the query against title and summary of published rows.
func (s *ContentStore) Search(_ context.Context, query string, limit int) ([]cms.Content, error) {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cms.Content
	for _, c := range s.rows {
		if c.Status != cms.ContentStatusPublished {
			continue
		}
		if strings.Contains(strings.ToLower(c.Title), q) || strings.Contains(strings.ToLower(c.Summary), q) {
			out = append(out, c)
		}
	}
	sortNewest(out)
	return window(out, limit, 0), nil
}

// Related returns recent published rows of the same type as the row with
// the given slug.
func (s *ContentStore) Related(_ context.Context, slug string, limit int) ([]cms.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ctype cms.ContentType
	found := false
	for _, c := range s.rows {
		if c.Slug == slug {
			ctype = c.Type
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}
	var out []cms.Content
	for _, c := range s.rows {
		if c.Type == ctype && c.Slug != slug && c.Status == cms.ContentStatusPublished {
			out = append(out, c)
		}
	}
	sortNewest(out)
	return window(out, limit, 0), nil
}

func sortNewest(rows []cms.Content) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
}

func window(rows []cms.Content, limit, offset int) []cms.Content {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
