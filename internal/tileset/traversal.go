package tileset

import (
	"math"

	"github.com/zhangxrk/cesium/internal/tile"
)

func (ts *Tileset) selectBaseTraversal(root *tile.Tile, fs *FrameState) {
	maxSSE := ts.opts.MaximumScreenSpaceError
	ts.stats.FullyRefined = ts.executeBaseTraversal(root, maxSSE, func(t *tile.Tile) {
		ts.addDesired(t, fs)
	}, fs)

	ts.markDesiredTilesForSelection(fs)
	ts.traverseAndSelect(root, fs)
}

func (ts *Tileset) selectSkipTraversal(root *tile.Tile, fs *FrameState) {
	ts.tc.queue1.reset()
	ts.tc.queue1.push(root)
	ts.executeSkipTraversal(ts.opts.MaximumScreenSpaceError, fs)

	ts.markDesiredTilesForSelection(fs)
	ts.traverseAndSelect(root, fs)
}

func (ts *Tileset) selectBaseAndSkipTraversal(root *tile.Tile, fs *FrameState) {
	maxSSE := ts.opts.MaximumScreenSpaceError
	baseSSE := math.Max(ts.opts.BaseScreenSpaceError, maxSSE)

	// leaves of the base traversal seed the skip traversal
	leaves := &ts.tc.queue1
	leaves.reset()
	fullyRefined := ts.executeBaseTraversal(root, baseSSE, leaves.push, fs)
	ts.stats.FullyRefined = fullyRefined

	if fullyRefined && baseSSE <= maxSSE {
		for _, t := range leaves.items {
			ts.addDesired(t, fs)
		}
		leaves.reset()
	} else if leaves.len() > 0 {
		ts.executeSkipTraversal(maxSSE, fs)
	}

	ts.markDesiredTilesForSelection(fs)
	ts.traverseAndSelect(root, fs)
}

// executeBaseTraversal is a depth-first traversal that loads every visible
// tile that does not meet maxSSE. Replace tiles that cannot refine further,
// because their children are not loaded or they meet the error, are handed
// to leaf. Additive tiles with content are always desired. It reports whether
// no leaf would need to traverse further.
func (ts *Tileset) executeBaseTraversal(root *tile.Tile, maxSSE float64, leaf func(*tile.Tile), fs *FrameState) bool {
	stack := &ts.tc.baseStack
	stack.reset()

	fullyRefined := true
	stack.push(root)

	for stack.len() > 0 {
		t := stack.pop()
		add := t.Refine == tile.RefineAdd
		replace := t.Refine == tile.RefineReplace

		ts.visitTile(t, fs)

		traverse := len(t.Children) > 0 && t.ScreenSpaceError > maxSSE
		parentRefines := true
		if parent := ts.tree.Get(t.Parent); parent != nil {
			parentRefines = parent.Refines
		}
		refines := traverse && parentRefines

		if traverse {
			for _, id := range t.Children {
				child := ts.tree.Get(id)
				visible := ts.updateVisibility(child, maxSSE, fs)
				// replace tiles need every child before they can refine,
				// visible or not; keep them all cached while siblings load
				if replace || visible {
					ts.loadTile(child, fs)
					ts.touch(child, fs)
				}
				if refines && replace {
					if child.HasEmptyContent() || child.HasTilesetContent {
						refines = ts.executeInternalBaseTraversal(child, maxSSE, fs)
					} else {
						refines = child.ContentAvailable()
					}
				}
				if visible {
					stack.push(child)
				}
			}
		}

		t.Refines = refines

		if !refines && parentRefines && replace && t.ContentAvailable() {
			fullyRefined = fullyRefined && !traverse
			leaf(t)
		}

		if add && t.ContentAvailable() {
			ts.addDesired(t, fs)
		}
	}

	return fullyRefined
}

// executeInternalBaseTraversal walks down through empty and tileset tiles,
// ignoring visibility, and reports whether every nearest descendant with
// content is loaded. Refining to children with a hole would show a gap.
func (ts *Tileset) executeInternalBaseTraversal(root *tile.Tile, maxSSE float64, fs *FrameState) bool {
	stack := &ts.tc.internalBaseStack
	stack.reset()

	allDescendantsLoaded := true
	stack.push(root)

	for stack.len() > 0 {
		t := stack.pop()

		traverse := (t.HasEmptyContent() || t.HasTilesetContent) &&
			len(t.Children) > 0 &&
			t.ScreenSpaceError > maxSSE

		if !traverse && !t.ContentAvailable() {
			allDescendantsLoaded = false
		}

		if traverse {
			for _, id := range t.Children {
				child := ts.tree.Get(id)
				ts.updateVisibility(child, maxSSE, fs)
				ts.loadTile(child, fs)
				ts.touch(child, fs)
				stack.push(child)
			}
		}
	}

	return allDescendantsLoaded
}

// visitTile resets t's per-frame selection state, at most once per frame.
func (ts *Tileset) visitTile(t *tile.Tile, fs *FrameState) {
	if t.VisitedFrame == fs.FrameNumber {
		return
	}
	t.VisitedFrame = fs.FrameNumber

	ts.stats.Visited++
	t.FinalResolution = false
	t.AncestorWithContentAvailable = tile.None

	if parent := ts.tree.Get(t.Parent); parent != nil {
		if parent.Refine == tile.RefineReplace && parent.ContentAvailable() {
			t.AncestorWithContentAvailable = parent.ID
		} else {
			t.AncestorWithContentAvailable = parent.AncestorWithContentAvailable
		}
	}
}

func (ts *Tileset) touch(t *tile.Tile, fs *FrameState) {
	if t.TouchedFrame == fs.FrameNumber {
		return
	}
	ts.cache.Touch(t.ID, fs.FrameNumber)
	t.TouchedFrame = fs.FrameNumber
}

// priority shares the parent's error among the children of a replace tile so
// siblings load together and the parent can refine sooner.
func (ts *Tileset) priority(t *tile.Tile) float64 {
	if parent := ts.tree.Get(t.Parent); parent != nil && parent.Refine == tile.RefineReplace {
		return parent.ScreenSpaceError
	}
	return t.ScreenSpaceError
}

func (ts *Tileset) loadTile(t *tile.Tile, fs *FrameState) {
	if t.RequestedFrame == fs.FrameNumber {
		return
	}
	t.RequestedFrame = fs.FrameNumber

	if t.ContentUnloaded() || t.ContentExpired() {
		t.Priority = ts.priority(t)
		ts.requested = append(ts.requested, t)
	}
}

func (ts *Tileset) addDesired(t *tile.Tile, fs *FrameState) {
	if t.DesiredFrame == fs.FrameNumber {
		return
	}
	t.DesiredFrame = fs.FrameNumber
	ts.desired = append(ts.desired, t)
}
