package route

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mugisham37/cms-gateway/internal/util"
)

// Store abstracts the persistent route catalog. The gateway only reads from
// it during reloads; administrative writes go through it so the uniqueness
// invariant is enforced at write time.
type Store interface {
	// List returns all routes in the catalog.
	List(ctx context.Context) ([]*Route, error)

	// Get returns the route with the given ID.
	Get(ctx context.Context, id string) (*Route, error)

	// Create adds a route. The (sourcePattern, method, tenantId) tuple must
	// be unique among active routes; violations return a ConflictError.
	Create(ctx context.Context, r *Route) error

	// Update replaces a route by ID, bumping its version.
	Update(ctx context.Context, r *Route) error

	// Delete removes a route by ID.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	routes map[string]*Route
}

// NewMemoryStore creates an empty in-memory route store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{routes: make(map[string]*Route)}
}

// List returns all routes in the store.
func (s *MemoryStore) List(_ context.Context) ([]*Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	routes := make([]*Route, 0, len(s.routes))
	for _, r := range s.routes {
		routes = append(routes, r.Clone())
	}
	return routes, nil
}

// Get returns the route with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.routes[id]
	if !ok {
		return nil, util.ErrRouteNotFound
	}
	return r.Clone(), nil
}

// Create adds a route, assigning an ID if absent.
func (s *MemoryStore) Create(_ context.Context, r *Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := s.checkUniqueLocked(r); err != nil {
		return err
	}

	r.Version = 1
	r.UpdatedAt = time.Now()
	s.routes[r.ID] = r.Clone()
	return nil
}

// Update replaces a route by ID.
func (s *MemoryStore) Update(_ context.Context, r *Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.routes[r.ID]
	if !ok {
		return util.ErrRouteNotFound
	}
	if err := s.checkUniqueLocked(r); err != nil {
		return err
	}

	r.Version = existing.Version + 1
	r.UpdatedAt = time.Now()
	s.routes[r.ID] = r.Clone()
	return nil
}

// Delete removes a route by ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routes[id]; !ok {
		return util.ErrRouteNotFound
	}
	delete(s.routes, id)
	return nil
}

// checkUniqueLocked enforces uniqueness of (sourcePattern, method, tenantId)
// among active routes. Must hold the write lock.
func (s *MemoryStore) checkUniqueLocked(candidate *Route) error {
	if !candidate.Config.Active {
		return nil
	}
	for _, existing := range s.routes {
		if existing.ID == candidate.ID || !existing.Config.Active {
			continue
		}
		if existing.TenantID != candidate.TenantID {
			continue
		}
		if existing.SourcePattern != candidate.SourcePattern {
			continue
		}
		if m := overlappingMethod(existing.Methods, candidate.Methods); m != "" {
			return util.NewConflictError(candidate.SourcePattern, m, candidate.TenantID)
		}
	}
	return nil
}

// overlappingMethod returns a method present in both sets, treating "ALL"
// as overlapping everything. Empty string means no overlap.
func overlappingMethod(a, b []string) string {
	for _, ma := range a {
		for _, mb := range b {
			if ma == MethodAll || mb == MethodAll || strings.EqualFold(ma, mb) {
				if ma == MethodAll {
					return mb
				}
				return ma
			}
		}
	}
	return ""
}
