package worker

import "sync"

// EnvironmentCache holds the last known details of every environment a
// release snapshot has covered. The worker is its only writer.
type EnvironmentCache struct {
	mu      sync.RWMutex
	entries map[int]EnvironmentDetails
}

// NewEnvironmentCache creates an empty cache.
func NewEnvironmentCache() *EnvironmentCache {
	return &EnvironmentCache{
		entries: make(map[int]EnvironmentDetails),
	}
}

// Get returns the details of an environment.
func (c *EnvironmentCache) Get(environmentID int) (EnvironmentDetails, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.entries[environmentID]
	return d, ok
}

// Set replaces the details of one environment.
func (c *EnvironmentCache) Set(environmentID int, details EnvironmentDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[environmentID] = details
}

// Size returns the number of cached environments.
func (c *EnvironmentCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
