package users

import (
	"fmt"
	"strings"
	"sync"
)

// identityCache memoizes resolved users per process, keyed by username and,
// when known, by id and email. A negative entry records "known missing" so
// repeated lookups of absent identifiers do not hit the store again. Store
// errors other than not-found are never cached; the next lookup retries.
type identityCache struct {
	mu      sync.RWMutex
	entries map[string]*User
	missing map[string]bool
}

func newIdentityCache() *identityCache {
	return &identityCache{
		entries: make(map[string]*User),
		missing: make(map[string]bool),
	}
}

func keyID(id int64) string      { return fmt.Sprintf("id:%d", id) }
func keyName(name string) string { return "name:" + strings.ToLower(name) }
func keyEmail(mail string) string {
	return "email:" + strings.ToLower(mail)
}

// register indexes the user under every identifier it carries and clears
// matching negative entries.
func (c *identityCache) register(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := []string{keyName(u.Username)}
	if u.ID != 0 {
		keys = append(keys, keyID(u.ID))
	}
	if u.Email != "" {
		keys = append(keys, keyEmail(u.Email))
	}
	for _, k := range keys {
		c.entries[k] = u
		delete(c.missing, k)
	}
}

// markMissing records a negative entry for the key.
func (c *identityCache) markMissing(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missing[key] = true
}

// lookup returns (user, found, negative).
func (c *identityCache) lookup(key string) (*User, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.missing[key] {
		return nil, false, true
	}
	u, ok := c.entries[key]
	return u, ok, false
}

// reset drops every entry, positive and negative.
func (c *identityCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*User)
	c.missing = make(map[string]bool)
}

// evict forgets the user entirely, including negative entries for its keys.
func (c *identityCache) evict(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, keyName(u.Username))
	delete(c.missing, keyName(u.Username))
	if u.ID != 0 {
		delete(c.entries, keyID(u.ID))
		delete(c.missing, keyID(u.ID))
	}
	if u.Email != "" {
		delete(c.entries, keyEmail(u.Email))
		delete(c.missing, keyEmail(u.Email))
	}
}
