package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
)

// InMemoryResolutions is a map-backed ResolutionStore for tests and dry runs.
type InMemoryResolutions struct {
	mu      sync.RWMutex
	entries map[models.Key]models.Resolution
	opts    options
}

func NewInMemoryResolutions(opts ...Option) *InMemoryResolutions {
	return &InMemoryResolutions{
		entries: make(map[models.Key]models.Resolution),
		opts:    newOptions(opts),
	}
}

func (s *InMemoryResolutions) Get(_ context.Context, key models.Key) (models.Resolution, error) {
	start := time.Now()
	s.mu.RLock()
	res, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		s.opts.recordMiss(namespaceResolution, start)
		return models.Resolution{}, ErrNotFound
	}
	s.opts.recordHit(namespaceResolution, start)
	return res, nil
}

func (s *InMemoryResolutions) GetMany(_ context.Context, keys []models.Key) (map[models.Key]models.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Key]models.Resolution, len(keys))
	for _, k := range keys {
		if res, ok := s.entries[k]; ok {
			out[k] = res
		}
	}
	return out, nil
}

func (s *InMemoryResolutions) Set(_ context.Context, res models.Resolution) error {
	if err := validate(res); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[res.Key]; ok && conflicts(prev, res) {
		return ErrAlreadyResolved
	}
	s.entries[res.Key] = res
	return nil
}

func (s *InMemoryResolutions) Replace(_ context.Context, res models.Resolution) error {
	if err := validate(res); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[res.Key] = res
	return nil
}

func (s *InMemoryResolutions) Contains(_ context.Context, key models.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok, nil
}

// Keys returns every cached key in (round, local id) order.
func (s *InMemoryResolutions) Keys(_ context.Context) ([]models.Key, error) {
	s.mu.RLock()
	keys := make([]models.Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	slices.SortFunc(keys, compareKeys)
	return keys, nil
}

// Len returns the number of cached entries.
func (s *InMemoryResolutions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// InMemoryMetadata is a map-backed MetadataStore.
type InMemoryMetadata struct {
	mu      sync.RWMutex
	entries map[string]models.RemoteMetadata
	opts    options
}

func NewInMemoryMetadata(opts ...Option) *InMemoryMetadata {
	return &InMemoryMetadata{
		entries: make(map[string]models.RemoteMetadata),
		opts:    newOptions(opts),
	}
}

func (s *InMemoryMetadata) Get(_ context.Context, identifier string) (models.RemoteMetadata, error) {
	start := time.Now()
	s.mu.RLock()
	md, ok := s.entries[identifier]
	s.mu.RUnlock()
	if !ok {
		s.opts.recordMiss(namespaceMetadata, start)
		return models.RemoteMetadata{}, ErrNotFound
	}
	s.opts.recordHit(namespaceMetadata, start)
	return md, nil
}

func (s *InMemoryMetadata) Set(_ context.Context, md models.RemoteMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[md.Identifier]; ok {
		return nil
	}
	s.entries[md.Identifier] = md
	return nil
}

func (s *InMemoryMetadata) Replace(_ context.Context, md models.RemoteMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[md.Identifier] = md
	return nil
}

func (s *InMemoryMetadata) Contains(_ context.Context, identifier string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[identifier]
	return ok, nil
}

func compareKeys(a, b models.Key) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
