package tile

import (
	"fmt"

	"github.com/zhangxrk/cesium/internal/geom"
)

// containment slack when deciding whether children fit inside their parent
const hintEpsilon = 1e-6

// Tree owns every tile of a tileset. Tiles are addressed by ID and parents are
// plain indices, so the tree is the only owner.
type Tree struct {
	tiles []*Tile
}

func NewTree() *Tree {
	return &Tree{}
}

func (tr *Tree) Len() int { return len(tr.tiles) }

// Get returns the tile for id, or nil for None and unknown IDs.
func (tr *Tree) Get(id ID) *Tile {
	if id < 0 || int(id) >= len(tr.tiles) {
		return nil
	}
	return tr.tiles[id]
}

// Root is the first tile added, or nil for an empty tree.
func (tr *Tree) Root() *Tile {
	return tr.Get(0)
}

// Add attaches t under parent (None for the root) and returns its ID.
func (tr *Tree) Add(parent ID, t *Tile) (ID, error) {
	if parent == None && len(tr.tiles) > 0 {
		return None, fmt.Errorf("tree already has a root")
	}
	var p *Tile
	if parent != None {
		if p = tr.Get(parent); p == nil {
			return None, fmt.Errorf("unknown parent tile %d", parent)
		}
	}

	id := ID(len(tr.tiles))
	t.ID = id
	t.Parent = parent
	t.Children = t.Children[:0]
	t.Depth = 0
	if p != nil {
		t.Depth = p.Depth + 1
		p.Children = append(p.Children, id)
	}
	tr.tiles = append(tr.tiles, t)
	return id, nil
}

// Graft moves the tiles of sub under parent, keeping sub's shape. It returns
// the new ID of sub's root. sub must not be used afterwards.
func (tr *Tree) Graft(parent ID, sub *Tree) (ID, error) {
	if sub == nil || sub.Len() == 0 {
		return None, fmt.Errorf("graft: empty subtree")
	}
	if tr.Get(parent) == nil {
		return None, fmt.Errorf("graft: unknown parent tile %d", parent)
	}

	// parents always precede their children in an arena, so one pass suffices
	remap := make([]ID, sub.Len())
	for i, t := range sub.tiles {
		p := parent
		if t.Parent != None {
			p = remap[t.Parent]
		}
		id, err := tr.Add(p, t)
		if err != nil {
			return None, fmt.Errorf("graft: %w", err)
		}
		remap[i] = id
	}
	sub.tiles = nil
	return remap[0], nil
}

// Walk calls fn for id and its descendants in preorder until fn returns false.
func (tr *Tree) Walk(id ID, fn func(*Tile) bool) {
	stack := []ID{id}
	for len(stack) > 0 {
		n := len(stack) - 1
		t := tr.Get(stack[n])
		stack = stack[:n]
		if t == nil {
			continue
		}
		if !fn(t) {
			return
		}
		for i := len(t.Children) - 1; i >= 0; i-- {
			stack = append(stack, t.Children[i])
		}
	}
}

// AllAdditive reports whether every tile of the tree uses additive refinement.
func (tr *Tree) AllAdditive() bool {
	for _, t := range tr.tiles {
		if t.Refine != RefineAdd {
			return false
		}
	}
	return len(tr.tiles) > 0
}

// ComputeOptimizationHints decides for every tile with children whether all
// children bounding volumes are enclosed by its own.
func (tr *Tree) ComputeOptimizationHints() {
	for _, t := range tr.tiles {
		if len(t.Children) == 0 {
			t.OptimChildrenWithinParent = SkipOptimization
			continue
		}
		hint := UseOptimization
		for _, cid := range t.Children {
			c := tr.Get(cid)
			if c == nil || !childWithinParent(t, c) {
				hint = SkipOptimization
				break
			}
		}
		t.OptimChildrenWithinParent = hint
	}
}

func childWithinParent(parent, child *Tile) bool {
	if parent.BoundingVolume == nil || child.BoundingVolume == nil {
		return false
	}
	// Child volumes live in the child's frame; bring them into the parent's.
	inner := child.BoundingVolume.Transform(child.Transform)
	return geom.Encloses(parent.BoundingVolume, inner, hintEpsilon)
}
