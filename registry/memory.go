package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry is an in-memory Registry implementation for testing and
// development.
type MemoryRegistry struct {
	mu      sync.RWMutex
	indexes map[string]*Index // public id -> record
	stats   map[string][]StatSample
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		indexes: make(map[string]*Index),
		stats:   make(map[string][]StatSample),
	}
}

// Create persists a new record, regenerating the public id on collision.
func (r *MemoryRegistry) Create(_ context.Context, newIndex NewIndex) (*Index, error) {
	if err := newIndex.Keys.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		publicID, err := newPublicID()
		if err != nil {
			return nil, err
		}
		if _, exists := r.indexes[publicID]; exists {
			continue
		}

		index := &Index{
			ID:          uuid.NewString(),
			PublicID:    publicID,
			AuthzID:     newIndex.AuthzID,
			ProjectUUID: newIndex.ProjectUUID,
			Name:        newIndex.Name,
			Keys:        newIndex.Keys,
			CreatedAt:   time.Now().UTC(),
		}
		r.indexes[publicID] = index

		copied := *index
		return &copied, nil
	}
	return nil, ErrDuplicateID
}

// Get returns the live record for the public id.
func (r *MemoryRegistry) Get(_ context.Context, publicID string) (*Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index, ok := r.indexes[publicID]
	if !ok || index.DeletedAt != nil {
		return nil, ErrNotFound
	}
	copied := *index
	return &copied, nil
}

// List returns live records, newest first.
func (r *MemoryRegistry) List(_ context.Context, projectUUID string) ([]*Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var indexes []*Index
	for _, index := range r.indexes {
		if index.DeletedAt != nil {
			continue
		}
		if projectUUID != "" && index.ProjectUUID != projectUUID {
			continue
		}
		copied := *index
		indexes = append(indexes, &copied)
	}
	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i].CreatedAt.After(indexes[j].CreatedAt)
	})
	return indexes, nil
}

// SoftDelete marks the record deleted.
func (r *MemoryRegistry) SoftDelete(_ context.Context, publicID, authzID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, ok := r.indexes[publicID]
	if !ok || index.DeletedAt != nil || index.AuthzID != authzID {
		return ErrNotFound
	}
	now := time.Now().UTC()
	index.DeletedAt = &now
	return nil
}

// AddStat appends one stat sample for a live index.
func (r *MemoryRegistry) AddStat(_ context.Context, sample StatSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, ok := r.indexes[sample.PublicID]
	if !ok || index.DeletedAt != nil {
		return ErrNotFound
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now().UTC()
	}
	r.stats[sample.PublicID] = append(r.stats[sample.PublicID], sample)
	return nil
}

// Stats returns the samples for an index, oldest first.
func (r *MemoryRegistry) Stats(_ context.Context, publicID string) ([]StatSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	samples := make([]StatSample, len(r.stats[publicID]))
	copy(samples, r.stats[publicID])
	return samples, nil
}

// Close releases nothing for the memory registry.
func (r *MemoryRegistry) Close() error {
	return nil
}
