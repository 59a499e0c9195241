package tileset

import "github.com/zhangxrk/cesium/internal/tile"

// markDesiredTilesForSelection marks every desired tile, or its nearest
// ancestor with content when it has none yet.
func (ts *Tileset) markDesiredTilesForSelection(fs *FrameState) {
	for _, t := range ts.desired {
		loaded := t
		if !t.ContentAvailable() {
			loaded = ts.tree.Get(t.AncestorWithContentAvailable)
		}
		if loaded != nil {
			ts.markForSelection(loaded, fs)
		}
	}
}

// traverseAndSelect walks the tree in preorder and selects the marked tiles,
// emitting children before their ancestors: stencil compositing draws the
// finer tile first and relies on that order rather than on depth.
//
// SelectionDepth is a tile's depth in the tree made of selected tiles only.
// The stencil buffer bounds it (255, or 15 with inverted classification),
// which is not expected to be reached in practice.
func (ts *Tileset) traverseAndSelect(root *tile.Tile, fs *FrameState) {
	stack := &ts.tc.selectionStack
	ancestors := &ts.tc.ancestorStack
	stack.reset()
	ancestors.reset()

	var lastAncestor *tile.Tile
	stack.push(root)

	for stack.len() > 0 || ancestors.len() > 0 {
		if ancestors.len() > 0 {
			waiting := ancestors.peek()
			if waiting.stackLen == stack.len() {
				ancestors.pop()
				if waiting.tile == lastAncestor {
					waiting.tile.FinalResolution = true
				}
				ts.selectTile(waiting.tile, fs)
				continue
			}
		}

		t := stack.pop()
		if t.SelectedFrame == fs.FrameNumber {
			t.SelectionDepth = ancestors.len()
			if t.SelectionDepth > 0 {
				ts.hasMixedContent = true
			}
			switch t.Refine {
			case tile.RefineAdd:
				// drawn on top of any selected replace ancestor
				t.FinalResolution = true
				ts.selectTile(t, fs)

			case tile.RefineReplace:
				lastAncestor = t
				if len(t.Children) == 0 {
					t.FinalResolution = true
					ts.selectTile(t, fs)
					continue
				}
				ancestors.push(ancestor{tile: t, stackLen: stack.len()})
			}
		}

		for _, id := range t.Children {
			// only tiles visited this frame can lead to selected tiles
			if child := ts.tree.Get(id); child.VisitedFrame == fs.FrameNumber {
				stack.push(child)
			}
		}
	}
}

func (ts *Tileset) selectTile(t *tile.Tile, fs *FrameState) {
	if t.SelectedFrame != fs.FrameNumber {
		ts.markForSelection(t, fs)
	}
	ts.selected = append(ts.selected, t)
}

// markForSelection flags a tile with visible content as selected this frame
// and queues it for styling when it is newly selected or its feature
// properties changed.
func (ts *Tileset) markForSelection(t *tile.Tile, fs *FrameState) {
	if t.SelectedFrame == fs.FrameNumber {
		return
	}
	if !t.ContentAvailable() || !contentVisible(t, fs) {
		return
	}

	if t.FeaturePropertiesDirty {
		t.FeaturePropertiesDirty = false
		t.LastStyleTime = 0
		ts.toStyle = append(ts.toStyle, t)
	} else if t.SelectedFrame == 0 || t.SelectedFrame+1 != fs.FrameNumber {
		t.LastStyleTime = 0
		ts.toStyle = append(ts.toStyle, t)
	}
	t.SelectedFrame = fs.FrameNumber
}
