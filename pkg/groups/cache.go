package groups

import (
	"strings"
	"sync"
)

// groupCache is the process-local index over groups, keyed by id and by
// lowercased name. Lazily populated one group at a time; invalidated as a
// whole on structural change.
type groupCache struct {
	mu       sync.RWMutex
	byID     map[int64]*Group
	idByName map[string]int64
}

func newGroupCache() *groupCache {
	return &groupCache{
		byID:     make(map[int64]*Group),
		idByName: make(map[string]int64),
	}
}

func (c *groupCache) register(g *Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[g.ID] = g
	c.idByName[strings.ToLower(g.Name)] = g.ID
}

func (c *groupCache) lookupID(id int64) (*Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.byID[id]
	return g, ok
}

func (c *groupCache) lookupName(name string) (*Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.idByName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	g, ok := c.byID[id]
	return g, ok
}

func (c *groupCache) evict(g *Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, g.ID)
	delete(c.idByName, strings.ToLower(g.Name))
}

func (c *groupCache) rename(g *Group, newName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.idByName, strings.ToLower(g.Name))
	g.Name = newName
	c.idByName[strings.ToLower(newName)] = g.ID
}
