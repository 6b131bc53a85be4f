package dedup

import (
	"sync"
	"time"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

// DefaultCapacity is the number of responses kept when no capacity is configured.
const DefaultCapacity = 10

// MemoryCache keeps the most recently stored chat responses in process memory.
// Eviction is first-in first-out by insertion time; overwriting a key counts
// as a fresh insertion. It is safe for concurrent use.
type MemoryCache struct {
	capacity int
	now      func() time.Time

	mu  sync.Mutex
	m   map[string]domain.CacheEntry
	ord []string
}

// NewMemoryCache returns an empty cache holding at most capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryCache{
		capacity: capacity,
		now:      time.Now,
		m:        make(map[string]domain.CacheEntry, capacity+1),
		ord:      make([]string, 0, capacity+1),
	}
}

// Lookup returns the entry stored under key, if any.
func (c *MemoryCache) Lookup(_ domain.Context, key string) (domain.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	return e, ok, nil
}

// Store inserts or overwrites an entry and evicts the oldest entries until
// the cache is back at capacity.
func (c *MemoryCache) Store(_ domain.Context, e domain.CacheEntry) error {
	if e.Key == "" {
		return domain.ErrInvalidArgument
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[e.Key]; exists {
		c.removeFromOrder(e.Key)
	}
	c.m[e.Key] = e
	c.ord = append(c.ord, e.Key)
	for len(c.ord) > c.capacity {
		old := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, old)
	}
	return nil
}

// Len reports the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *MemoryCache) removeFromOrder(key string) {
	for i, k := range c.ord {
		if k == key {
			c.ord = append(c.ord[:i], c.ord[i+1:]...)
			return
		}
	}
}
