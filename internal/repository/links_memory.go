package repository

import (
	"context"
	"sync"

	"tcsgo-engine/internal/model"
)

// MemoryLinkRepository implements LinkRepository in memory. Used when no
// link database is configured and in tests.
type MemoryLinkRepository struct {
	mu     sync.RWMutex
	groups map[string]int64
	nextID int64
}

// NewMemoryLinkRepository creates a new in-memory link repository.
func NewMemoryLinkRepository() *MemoryLinkRepository {
	return &MemoryLinkRepository{groups: make(map[string]int64), nextID: 1}
}

// ResolveLinks returns the identity's whole link group.
func (r *MemoryLinkRepository) ResolveLinks(ctx context.Context, identity model.Identity) ([]model.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[identity.Key()]
	if !ok {
		return []model.Identity{identity}, nil
	}

	var linked []model.Identity
	for key, g := range r.groups {
		if g != group {
			continue
		}
		platform, username, found := splitKey(key)
		if !found {
			continue
		}
		linked = append(linked, model.Identity{Platform: platform, Username: username})
	}
	return linked, nil
}

// CreateLink links two identities into one group.
func (r *MemoryLinkRepository) CreateLink(ctx context.Context, a, b model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	groupA, okA := r.groups[a.Key()]
	groupB, okB := r.groups[b.Key()]

	switch {
	case !okA && !okB:
		group := r.nextID
		r.nextID++
		r.groups[a.Key()] = group
		r.groups[b.Key()] = group
	case okA && !okB:
		r.groups[b.Key()] = groupA
	case !okA && okB:
		r.groups[a.Key()] = groupB
	case groupA != groupB:
		for key, g := range r.groups {
			if g == groupB {
				r.groups[key] = groupA
			}
		}
	}
	return nil
}

// RemoveLink detaches an identity from its group.
func (r *MemoryLinkRepository) RemoveLink(ctx context.Context, identity model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, identity.Key())
	return nil
}

// Close is a no-op for the in-memory repository.
func (r *MemoryLinkRepository) Close() error { return nil }

func splitKey(key string) (platform, username string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// Ensure MemoryLinkRepository implements LinkRepository
var _ LinkRepository = (*MemoryLinkRepository)(nil)
