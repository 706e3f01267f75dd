package weather

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sigaire/pushalerts/internal/domain"
)

type entry struct {
	c         domain.Conditions
	expiresAt time.Time
}

// cache is a small TTL cache so subscribers in the same place share one
// upstream fetch. A zero TTL disables it.
type cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

func (c *cache) get(key string) (domain.Conditions, bool) {
	if c.ttl <= 0 || key == "" {
		return domain.Conditions{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return domain.Conditions{}, false
	}
	return e.c, true
}

func (c *cache) set(key string, v domain.Conditions) {
	if c.ttl <= 0 || key == "" {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry{c: v, expiresAt: now.Add(c.ttl)}
}

// cacheKey rounds coordinates to ~1 km.
func cacheKey(loc domain.Location) string {
	if loc.HasCoords() {
		return fmt.Sprintf("%.2f,%.2f", *loc.Lat, *loc.Lon)
	}
	if city := strings.TrimSpace(loc.City); city != "" {
		return "city:" + strings.ToLower(city)
	}
	return ""
}
