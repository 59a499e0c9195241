package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zhangxrk/cesium/internal/tile"
)

func TestTrimEvictsOldestFirst(t *testing.T) {
	c := New()
	c.Reset(1)
	for id := tile.ID(0); id < 4; id++ {
		c.Add(id, 1)
	}
	c.Reset(2)
	c.Touch(0, 2)

	var unloaded []tile.ID
	n := c.Trim(1, func(id tile.ID) { unloaded = append(unloaded, id) })

	if n != 3 || c.Len() != 1 || c.Evicted() != 3 {
		t.Fatalf("n=%d len=%d evicted=%d", n, c.Len(), c.Evicted())
	}
	if diff := cmp.Diff([]tile.ID{1, 2, 3}, unloaded); diff != "" {
		t.Fatalf("eviction order mismatch (-want +got):\n%s", diff)
	}
	if !c.Contains(0) {
		t.Fatalf("tile touched this frame was evicted")
	}
}

func TestTrimKeepsCurrentFrameOverCapacity(t *testing.T) {
	c := New()
	c.Reset(5)
	for id := tile.ID(0); id < 10; id++ {
		c.Add(id, 5)
	}
	if n := c.Trim(2, nil); n != 0 || c.Len() != 10 {
		t.Fatalf("evicted %d tiles used this frame, len=%d", n, c.Len())
	}
}

func TestTouchIgnoresTilesWithoutContent(t *testing.T) {
	c := New()
	c.Touch(7, 1)
	if c.Contains(7) {
		t.Fatalf("touch must not make a tile resident")
	}
	c.Add(7, 1)
	c.Remove(7)
	if c.Len() != 0 {
		t.Fatalf("len %d after remove", c.Len())
	}
}
