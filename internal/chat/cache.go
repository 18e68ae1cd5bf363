package chat

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default agent cache capacity.
const DefaultCacheSize = 50

// Cache is a bounded session-id to agent-handle map with LRU eviction.
// When a session beyond capacity is requested, the least recently used
// handle is evicted; its session's history remains intact in the store and
// the handle is rebuilt on the next request.
type Cache struct {
	// mu covers lookup+insert so concurrent GetOrCreate calls for the same
	// session return the same handle.
	mu           sync.Mutex
	handles      *lru.Cache[uuid.UUID, *Handle]
	capacity     int
	modelName    string
	systemPrompt string
}

// NewCache creates an agent handle cache with the given capacity.
// Non-positive sizes fall back to DefaultCacheSize.
func NewCache(size int, modelName, systemPrompt string) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	handles, err := lru.New[uuid.UUID, *Handle](size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		handles:      handles,
		capacity:     size,
		modelName:    modelName,
		systemPrompt: systemPrompt,
	}, nil
}

// Cap returns the cache capacity.
func (c *Cache) Cap() int { return c.capacity }

// GetOrCreate returns the handle for sessionID, promoting it to most
// recently used. A missing handle is built and inserted; over capacity this
// evicts exactly the least recently used entry.
func (c *Cache) GetOrCreate(sessionID uuid.UUID) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles.Get(sessionID); ok {
		return h
	}
	h := newHandle(sessionID, c.modelName, c.systemPrompt)
	c.handles.Add(sessionID, h)
	return h
}

// Contains reports whether sessionID is resident without promoting it.
func (c *Cache) Contains(sessionID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles.Contains(sessionID)
}

// Remove drops the handle for sessionID, if resident.
func (c *Cache) Remove(sessionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles.Remove(sessionID)
}

// Clear drops all handles.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles.Purge()
}

// Len returns the number of resident handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles.Len()
}
