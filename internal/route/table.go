package route

import (
	"sort"
	"sync"

	"github.com/mugisham37/cms-gateway/internal/util"
)

// compiledRoute pairs a route with its pre-split pattern.
type compiledRoute struct {
	route   *Route
	pattern pattern
}

// group holds all routes sharing one wildcard-normalized pattern shape.
type group struct {
	shape  pattern
	routes []*compiledRoute
}

// shapeMatches checks the group's normalized shape against pre-split request
// path segments: same segment count, literal segments equal.
func (g *group) shapeMatches(pathSegments []string) bool {
	if len(pathSegments) != len(g.shape.segments) {
		return false
	}
	for i, seg := range g.shape.segments {
		if !seg.isParam && seg.literal != pathSegments[i] {
			return false
		}
	}
	return true
}

// Table is the in-memory route index. Reads are reader-lock protected
// relative to writes; every mutation replaces whole routes, so Resolve
// never observes a partially updated route.
type Table struct {
	mu     sync.RWMutex
	groups map[string]*group
	byID   map[string]*compiledRoute
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{
		groups: make(map[string]*group),
		byID:   make(map[string]*compiledRoute),
	}
}

// Resolve finds the best-matching route for the given path, method, and
// tenant. Candidates are ordered by specificity: more literal segments beat
// parameter segments, longer patterns beat shorter ones, and tenant-scoped
// routes beat global ones. The first candidate that is active, accepts the
// method, and is visible to the tenant wins.
func (t *Table) Resolve(path, method, tenantID string) (*Route, map[string]string, error) {
	pathSegments := splitPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []*compiledRoute
	for _, g := range t.groups {
		if g.shapeMatches(pathSegments) {
			candidates = append(candidates, g.routes...)
		}
	}

	sortBySpecificity(candidates)

	for _, c := range candidates {
		if !c.route.Config.Active {
			continue
		}
		if !c.route.MatchesMethod(method) {
			continue
		}
		if !c.route.MatchesTenant(tenantID) {
			continue
		}
		params, ok := c.pattern.match(pathSegments)
		if !ok {
			continue
		}
		return c.route, params, nil
	}

	return nil, nil, util.NewRouteNotFoundError(method, path)
}

// sortBySpecificity orders candidates so the most specific route is tried
// first. Route ID is the final tie-break to keep resolution deterministic
// when patterns differ only by parameter name (a catalog data-integrity
// violation this table does not special-case).
func sortBySpecificity(candidates []*compiledRoute) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if la, lb := a.pattern.literalCount(), b.pattern.literalCount(); la != lb {
			return la > lb
		}
		if la, lb := len(a.route.SourcePattern), len(b.route.SourcePattern); la != lb {
			return la > lb
		}
		if (a.route.TenantID != "") != (b.route.TenantID != "") {
			return a.route.TenantID != ""
		}
		return a.route.ID < b.route.ID
	})
}

// Upsert inserts a route or replaces the route with the same ID. The
// replacement is visible to readers atomically, as a whole route.
func (t *Table) Upsert(r *Route) {
	compiled := &compiledRoute{
		route:   r.Clone(),
		pattern: compilePattern(r.SourcePattern),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeLocked(r.ID)
	t.insertLocked(compiled)
}

// Remove deletes a route by ID. Removing an unknown ID is a no-op.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

// Load replaces the entire table contents in one atomic swap. Used by the
// reloader to mirror the external catalog.
func (t *Table) Load(routes []*Route) {
	groups := make(map[string]*group)
	byID := make(map[string]*compiledRoute, len(routes))

	for _, r := range routes {
		compiled := &compiledRoute{
			route:   r.Clone(),
			pattern: compilePattern(r.SourcePattern),
		}
		byID[r.ID] = compiled
		key := compiled.pattern.normalized()
		g, ok := groups[key]
		if !ok {
			g = &group{shape: compilePattern(key)}
			groups[key] = g
		}
		g.routes = append(g.routes, compiled)
	}

	for _, g := range groups {
		sortGroup(g)
	}

	t.mu.Lock()
	t.groups = groups
	t.byID = byID
	t.mu.Unlock()
}

// Get returns the route with the given ID, if present.
func (t *Table) Get(id string) (*Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return c.route, true
}

// Len returns the number of routes in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Snapshot returns all routes currently in the table.
func (t *Table) Snapshot() []*Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	routes := make([]*Route, 0, len(t.byID))
	for _, c := range t.byID {
		routes = append(routes, c.route)
	}
	return routes
}

// insertLocked adds a compiled route to its group. Must hold the write lock.
func (t *Table) insertLocked(c *compiledRoute) {
	t.byID[c.route.ID] = c

	key := c.pattern.normalized()
	g, ok := t.groups[key]
	if !ok {
		g = &group{shape: compilePattern(key)}
		t.groups[key] = g
	}
	g.routes = append(g.routes, c)
	sortGroup(g)
}

// removeLocked deletes a route by ID. Must hold the write lock.
func (t *Table) removeLocked(id string) {
	c, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)

	key := c.pattern.normalized()
	g, ok := t.groups[key]
	if !ok {
		return
	}
	for i, existing := range g.routes {
		if existing.route.ID == id {
			g.routes = append(g.routes[:i], g.routes[i+1:]...)
			break
		}
	}
	if len(g.routes) == 0 {
		delete(t.groups, key)
	}
}

// sortGroup keeps routes within a group sorted by descending source pattern
// length, the longest-literal-first walk order.
func sortGroup(g *group) {
	sort.Slice(g.routes, func(i, j int) bool {
		a, b := g.routes[i], g.routes[j]
		if la, lb := len(a.route.SourcePattern), len(b.route.SourcePattern); la != lb {
			return la > lb
		}
		return a.route.ID < b.route.ID
	})
}
