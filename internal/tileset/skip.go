package tileset

import "github.com/zhangxrk/cesium/internal/tile"

// executeSkipTraversal is a breadth-first traversal that always refines down
// to the maximum screen space error, loading only the levels where the
// skipping threshold is reached. queue1 is filled before the call.
func (ts *Tileset) executeSkipTraversal(maxSSE float64, fs *FrameState) {
	current := &ts.tc.queue1
	next := &ts.tc.queue2
	next.reset()

	for current.len() > 0 {
		for i := 0; i < current.len(); i++ {
			ts.executeInternalSkipTraversal(current.items[i], maxSSE, next, fs)
		}

		// the next level becomes the current one
		current.reset()
		current, next = next, current
	}

	ts.tc.queue1.reset()
	ts.tc.queue2.reset()
}

// executeInternalSkipTraversal runs depth first from seed and stops each
// branch at the first replace tile worth loading on the way to its desired
// level; that tile is queued to continue from in the next level.
func (ts *Tileset) executeInternalSkipTraversal(seed *tile.Tile, maxSSE float64, queue *buffer[*tile.Tile], fs *FrameState) {
	stack := &ts.tc.internalSkipStack
	stack.reset()
	stack.push(seed)

	for stack.len() > 0 {
		t := stack.pop()
		ts.visitTile(t, fs)

		traverse := len(t.Children) > 0 && t.ScreenSpaceError > maxSSE

		switch t.Refine {
		case tile.RefineAdd:
			ts.touch(t, fs)
			ts.loadTile(t, fs)
			if t.ContentAvailable() {
				ts.addDesired(t, fs)
			}
			if !traverse {
				continue
			}

		case tile.RefineReplace:
			if !traverse {
				ts.loadDesiredReplaceTile(t, fs)
				ts.addDesired(t, fs)
				continue
			}
			if t != seed && ts.reachedSkippingThreshold(t) {
				ts.loadTile(t, fs)
				ts.touch(t, fs)
				ts.addDesired(t, fs)
				queue.push(t)
				continue
			}
		}

		ts.touch(t, fs)
		for _, id := range t.Children {
			child := ts.tree.Get(id)
			if ts.updateVisibility(child, maxSSE, fs) {
				stack.push(child)
			}
		}
	}
}

// loadDesiredReplaceTile requests a replace tile where the skip traversal
// stops, or all of its siblings when LoadSiblings is set.
func (ts *Tileset) loadDesiredReplaceTile(t *tile.Tile, fs *FrameState) {
	parent := ts.tree.Get(t.Parent)
	if !ts.opts.LoadSiblings || parent == nil {
		ts.loadTile(t, fs)
		ts.touch(t, fs)
		return
	}
	for _, id := range parent.Children {
		sibling := ts.tree.Get(id)
		ts.loadTile(sibling, fs)
		ts.touch(sibling, fs)
	}
}

// reachedSkippingThreshold reports whether t is far enough below its nearest
// loaded ancestor, in error and in depth, to be loaded as an intermediate
// level instead of being skipped over.
func (ts *Tileset) reachedSkippingThreshold(t *tile.Tile) bool {
	ancestor := ts.tree.Get(t.AncestorWithContentAvailable)
	if ts.opts.ImmediatelyLoadDesiredLevelOfDetail || !t.ContentUnloaded() || ancestor == nil || ancestor == t {
		return false
	}

	skipLevels := 0
	factor := 1.0
	if ts.opts.SkipLevelOfDetail {
		skipLevels = ts.opts.SkipLevels
		factor = ts.opts.SkipScreenSpaceErrorFactor
	}

	return t.ScreenSpaceError < ancestor.ScreenSpaceError/factor &&
		t.Depth > ancestor.Depth+skipLevels
}
