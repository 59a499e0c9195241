// Package cache bounds the number of tiles with resident content by evicting
// the least recently touched ones between frames.
package cache

import (
	"fmt"
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/zhangxrk/cesium/internal/tile"
)

// Cache orders resident tiles by the frame they were last touched in. It does
// not own tiles; it only decides whose content may be unloaded.
type Cache struct {
	lru     *simplelru.LRU[tile.ID, uint64]
	frame   uint64
	evicted uint64
}

func New() *Cache {
	// the size bound is enforced by Trim, which knows about the current frame
	l, err := simplelru.NewLRU[tile.ID, uint64](math.MaxInt32, nil)
	if err != nil {
		panic(fmt.Sprintf("cache: %v", err))
	}
	return &Cache{lru: l}
}

// Reset starts a new frame. Tiles touched from now on are protected from
// eviction until the next Reset.
func (c *Cache) Reset(frame uint64) {
	c.frame = frame
}

// Add registers a tile whose content just became resident.
func (c *Cache) Add(id tile.ID, frame uint64) {
	c.lru.Add(id, frame)
}

// Touch marks a resident tile as used in frame. Tiles without resident
// content are ignored.
func (c *Cache) Touch(id tile.ID, frame uint64) {
	if _, ok := c.lru.Peek(id); ok {
		c.lru.Add(id, frame)
	}
}

func (c *Cache) Contains(id tile.ID) bool {
	return c.lru.Contains(id)
}

func (c *Cache) Remove(id tile.ID) {
	c.lru.Remove(id)
}

func (c *Cache) Len() int { return c.lru.Len() }

// Evicted is the number of tiles evicted by Trim since the cache was created.
func (c *Cache) Evicted() uint64 { return c.evicted }

// Trim evicts least recently touched tiles until at most capacity remain,
// never evicting a tile touched in the current frame. unload is called for
// every evicted tile, oldest first. It returns the number of evictions.
func (c *Cache) Trim(capacity int, unload func(tile.ID)) int {
	if capacity < 0 {
		capacity = 0
	}
	n := 0
	for c.lru.Len() > capacity {
		id, last, ok := c.lru.GetOldest()
		if !ok || last >= c.frame {
			break
		}
		c.lru.RemoveOldest()
		n++
		if unload != nil {
			unload(id)
		}
	}
	c.evicted += uint64(n)
	return n
}
