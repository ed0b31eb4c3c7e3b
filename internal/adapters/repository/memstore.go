package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/okian/storymap/internal/domain/dataset"
	"github.com/okian/storymap/pkg/metrics"
)

// Default store configuration constants.
const (
	defaultMaxViews = 64
)

// MemoryStore is the in-process Store. The collection is written once and
// read concurrently by every session and HTTP handler.
type MemoryStore struct {
	mu    sync.RWMutex
	ready chan struct{}

	collection *dataset.Collection
	years      []string
	err        error
	settled    bool

	views    map[string]*dataset.Collection
	maxViews int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		ready:    make(chan struct{}),
		views:    make(map[string]*dataset.Collection),
		maxViews: defaultMaxViews,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, c *dataset.Collection) error {
	if c == nil {
		return fmt.Errorf("put: nil collection")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return ErrAlreadyLoaded
	}

	s.collection = c
	s.years = dataset.Years(c)
	s.settled = true
	close(s.ready)

	metrics.UpdateDatasetSize(len(c.Features), len(s.years))
	return nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, err error) error {
	if err == nil {
		return fmt.Errorf("fail: nil error")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return ErrAlreadyLoaded
	}

	s.err = err
	s.settled = true
	close(s.ready)
	return nil
}

// Wait implements Store.
func (s *MemoryStore) Wait(ctx context.Context) (*dataset.Collection, error) {
	select {
	case <-s.ready:
		return s.Get(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context) (*dataset.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current()
}

func (s *MemoryStore) current() (*dataset.Collection, error) {
	switch {
	case !s.settled:
		return nil, ErrNotLoaded
	case s.err != nil:
		return nil, s.err
	default:
		return s.collection, nil
	}
}

// Years implements Store.
func (s *MemoryStore) Years(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.current(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.years...), nil
}

// Filtered implements Store.
func (s *MemoryStore) Filtered(_ context.Context, year string) (*dataset.Collection, error) {
	year = strings.TrimSpace(year)

	s.mu.RLock()
	c, err := s.current()
	view, cached := s.views[year]
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if year == "" || year == dataset.AllYears {
		return c, nil
	}
	if cached {
		return view, nil
	}

	view = dataset.FilterByYear(c, year)

	s.mu.Lock()
	if len(s.views) < s.maxViews {
		s.views[year] = view
	}
	s.mu.Unlock()
	return view, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.collection == nil {
		return 0
	}
	return len(s.collection.Features)
}

var _ Store = (*MemoryStore)(nil)
