package activity

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/matthewbaird/rentroll/internal/types"
)

// MemoryStore implements Store using an in-memory slice.
// Intended for tests and the sweep's dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	notes []types.Notification
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Write(_ context.Context, n types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.notes {
		if existing.ID == n.ID {
			return nil
		}
	}
	s.notes = append(s.notes, n)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, opts QueryOptions) ([]types.Notification, string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []types.Notification
	for _, n := range s.notes {
		if !matches(n, opts) {
			continue
		}
		if opts.Cursor != "" {
			if c, ok := parseCursor(opts.Cursor); ok && !n.OccurredAt.Before(c) {
				continue
			}
		}
		matched = append(matched, n)
	}
	// The total ignores the cursor, like the SQL store.
	total := 0
	for _, n := range s.notes {
		if matches(n, opts) {
			total++
		}
	}

	sortNewestFirst(matched)
	var next string
	if limit := opts.limit(); len(matched) > limit {
		matched = matched[:limit]
		next = formatCursor(matched[len(matched)-1].OccurredAt)
	}
	return matched, next, total, nil
}

func (s *MemoryStore) Search(_ context.Context, query string, opts QueryOptions) ([]types.Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var matched []types.Notification
	for _, n := range s.notes {
		if !strings.Contains(strings.ToLower(n.Subject), q) && !strings.Contains(strings.ToLower(n.Message), q) {
			continue
		}
		if !matches(n, opts) {
			continue
		}
		matched = append(matched, n)
	}

	sortNewestFirst(matched)
	total := len(matched)
	if limit := opts.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func matches(n types.Notification, opts QueryOptions) bool {
	if opts.OrganizationID != "" && n.OrganizationID != opts.OrganizationID {
		return false
	}
	if len(opts.Types) > 0 && !slices.Contains(opts.Types, n.Type) {
		return false
	}
	if opts.Since != nil && n.OccurredAt.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && n.OccurredAt.After(*opts.Until) {
		return false
	}
	if opts.EntityID != "" {
		found := false
		for _, r := range n.Refs {
			if r.EntityID == opts.EntityID && (opts.EntityType == "" || r.EntityType == opts.EntityType) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortNewestFirst(notes []types.Notification) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].OccurredAt.After(notes[j].OccurredAt)
	})
}
