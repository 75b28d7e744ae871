package roles

import (
	"sort"
	"sync"
)

// cacheState makes the "not populated yet" case explicit instead of
// overloading an empty map to mean both "no roles" and "rebuild everything".
type cacheState int

const (
	cacheNotLoaded cacheState = iota
	cacheLoaded
	cacheFailed
)

// treeCache is the process-local index over the role forest: id, path,
// and parent/child edges. It is populated lazily from a full table load and
// invalidated wholesale on any structural mutation. A re-parent changes
// the path of every descendant, so partial patching is unsafe and
// rebuild-on-next-access is the only correct lazy strategy.
type treeCache struct {
	mu       sync.RWMutex
	state    cacheState
	byID     map[int64]*Role
	idByPath map[string]int64
	children map[int64][]int64
}

func newTreeCache() *treeCache {
	return &treeCache{state: cacheNotLoaded}
}

func (c *treeCache) loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == cacheLoaded
}

// invalidate resets the cache to the not-loaded state.
func (c *treeCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cacheNotLoaded
	c.byID = nil
	c.idByPath = nil
	c.children = nil
}

// fail records a load failure; the next access retries the load.
func (c *treeCache) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cacheFailed
	c.byID = nil
	c.idByPath = nil
	c.children = nil
}

// build indexes a full load of the roles table, deriving each path from
// the parent chain.
func (c *treeCache) build(all []*Role) {
	byID := make(map[int64]*Role, len(all))
	children := make(map[int64][]int64)
	for _, r := range all {
		byID[r.ID] = r
	}

	computed := make(map[int64]string, len(all))
	var pathOf func(r *Role, seen map[int64]bool) string
	pathOf = func(r *Role, seen map[int64]bool) string {
		if p, ok := computed[r.ID]; ok {
			return p
		}
		parent, ok := byID[r.ParentID]
		// A missing or cyclic parent chain degrades to a root path rather
		// than looping.
		if r.ParentID == 0 || !ok || seen[r.ID] {
			computed[r.ID] = r.Segment
			return r.Segment
		}
		seen[r.ID] = true
		p := JoinPath(pathOf(parent, seen), r.Segment)
		computed[r.ID] = p
		return p
	}

	idByPath := make(map[string]int64, len(all))
	for _, r := range all {
		r.Path = pathOf(r, map[int64]bool{})
		idByPath[r.Path] = r.ID
		if r.ParentID != 0 {
			children[r.ParentID] = append(children[r.ParentID], r.ID)
		}
	}
	for id := range children {
		sort.Slice(children[id], func(i, j int) bool { return children[id][i] < children[id][j] })
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cacheLoaded
	c.byID = byID
	c.idByPath = idByPath
	c.children = children
}

// register adds a freshly created role to a loaded cache. On a not-loaded
// cache it is a no-op; the role is picked up by the next full load.
func (c *treeCache) register(r *Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cacheLoaded {
		return
	}
	c.byID[r.ID] = r
	c.idByPath[r.Path] = r.ID
	if r.ParentID != 0 {
		c.children[r.ParentID] = append(c.children[r.ParentID], r.ID)
	}
}

func (c *treeCache) lookupID(id int64) (*Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != cacheLoaded {
		return nil, false
	}
	r, ok := c.byID[id]
	return r, ok
}

func (c *treeCache) lookupPath(path string) (*Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != cacheLoaded {
		return nil, false
	}
	id, ok := c.idByPath[path]
	if !ok {
		return nil, false
	}
	r, ok := c.byID[id]
	return r, ok
}

func (c *treeCache) childIDs(id int64) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != cacheLoaded {
		return nil
	}
	ids := c.children[id]
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

// rename patches the cached role and its own path index entry after a
// segment change. Descendant paths change too, so callers invalidate the
// whole cache when the renamed role has children.
func (c *treeCache) rename(id int64, segment, newPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cacheLoaded {
		return
	}
	r, ok := c.byID[id]
	if !ok {
		return
	}
	delete(c.idByPath, r.Path)
	r.Segment = segment
	r.Path = newPath
	c.idByPath[newPath] = id
}
