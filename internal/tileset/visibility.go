package tileset

import (
	"math"

	"github.com/zhangxrk/cesium/internal/geom"
	"github.com/zhangxrk/cesium/internal/tile"
)

// screenSpaceError projects geometricError, measured at t's distance, to pixels.
func (ts *Tileset) screenSpaceError(geometricError float64, t *tile.Tile, fs *FrameState) float64 {
	if geometricError == 0 {
		// leaves have no error, skip the math
		return 0
	}

	height := float64(fs.Height)
	if o, ok := fs.Frustum.(geom.OrthographicFrustum); ok {
		right, top := o.Extents()
		width := float64(fs.Width)
		pixelSize := math.Max(2*top, 2*right) / math.Max(width, height)
		return geometricError / pixelSize
	}

	p, ok := fs.Frustum.(interface{ SSEDenominator() float64 })
	if !ok {
		return 0
	}
	distance := math.Max(t.DistanceToCamera, geom.Epsilon7)
	err := (geometricError * height) / (distance * p.SSEDenominator())

	if ts.opts.DynamicScreenSpaceError {
		density := ts.opts.DynamicScreenSpaceErrorDensity
		err -= geom.Fog(distance, density) * ts.opts.DynamicScreenSpaceErrorFactor
	}
	return err
}

// updateTile refreshes t's transform, distances, screen space error and
// visibility mask from its parent's. It returns whether t is visible.
func (ts *Tileset) updateTile(t *tile.Tile, fs *FrameState) bool {
	parentTransform := ts.opts.ModelMatrix
	parentMask := geom.MaskIndeterminate
	if parent := ts.tree.Get(t.Parent); parent != nil {
		parentTransform = parent.ComputedTransform
		parentMask = parent.VisibilityPlaneMask
	}

	t.ComputedTransform = parentTransform.Mul4(t.Transform)
	t.WorldBoundingVolume = t.BoundingVolume.Transform(t.ComputedTransform)
	t.WorldContentVolume = nil
	if t.ContentBoundingVolume != nil {
		t.WorldContentVolume = t.ContentBoundingVolume.Transform(t.ComputedTransform)
	}
	t.WorldRequestVolume = nil
	if t.ViewerRequestVolume != nil {
		t.WorldRequestVolume = t.ViewerRequestVolume.Transform(t.ComputedTransform)
	}

	cam := fs.Camera
	t.DistanceToCamera = t.WorldBoundingVolume.DistanceTo(cam.Position)
	t.CenterZDepth = t.WorldBoundingVolume.Center().Sub(cam.Position).Dot(cam.Direction)
	t.ScreenSpaceError = ts.screenSpaceError(t.GeometricError, t, fs)
	t.UpdateExpiration(fs.Time)

	mask := fs.CullingVolume.VisibilityWithPlaneMask(t.WorldBoundingVolume, parentMask)
	visible := mask != geom.MaskOutside && insideViewerRequestVolume(t, fs)
	if !visible {
		mask = geom.MaskOutside
	}
	t.VisibilityPlaneMask = mask
	t.UpdatedFrame = fs.FrameNumber
	return visible
}

func insideViewerRequestVolume(t *tile.Tile, fs *FrameState) bool {
	if t.WorldRequestVolume == nil {
		return true
	}
	return t.WorldRequestVolume.DistanceTo(fs.Camera.Position) == 0
}

func (ts *Tileset) updateChildren(t *tile.Tile, fs *FrameState) bool {
	anyVisible := false
	for _, id := range t.Children {
		child := ts.tree.Get(id)
		var visible bool
		if child.UpdatedFrame == fs.FrameNumber {
			visible = child.VisibilityPlaneMask != geom.MaskOutside
		} else {
			visible = ts.updateTile(child, fs)
		}
		anyVisible = anyVisible || visible
	}
	return anyVisible
}

func (ts *Tileset) getVisibility(t *tile.Tile, maxSSE float64, fs *FrameState) bool {
	// culled by the frustum when its parent updated it
	if t.VisibilityPlaneMask == geom.MaskOutside {
		return false
	}

	// an expired subtree is about to be replaced
	if t.HasTilesetContent && t.ContentExpired() {
		return false
	}

	// the parent's error measured at this tile already meets the budget
	if parent := ts.tree.Get(t.Parent); parent != nil && parent.Refine == tile.RefineAdd &&
		ts.screenSpaceError(parent.GeometricError, t, fs) <= maxSSE {
		return false
	}

	replace := t.Refine == tile.RefineReplace
	useOptimization := ts.opts.CullWithChildrenBounds && t.OptimChildrenWithinParent == tile.UseOptimization
	meetsScreenSpaceError := t.ScreenSpaceError <= maxSSE

	anyChildrenVisible := true
	if (!meetsScreenSpaceError || useOptimization) && len(t.Children) > 0 {
		anyChildrenVisible = ts.updateChildren(t, fs)
	}

	if replace && useOptimization && !anyChildrenVisible {
		ts.stats.CulledWithChildrenUnion++
		return false
	}
	return true
}

// updateVisibility evaluates getVisibility once per frame and caches the
// answer in the tile's plane mask.
func (ts *Tileset) updateVisibility(t *tile.Tile, maxSSE float64, fs *FrameState) bool {
	if t.VisibilityFrame == fs.FrameNumber {
		return t.VisibilityPlaneMask != geom.MaskOutside
	}
	if t.UpdatedFrame != fs.FrameNumber {
		ts.updateTile(t, fs)
	}

	visible := ts.getVisibility(t, maxSSE, fs)
	if !visible {
		t.VisibilityPlaneMask = geom.MaskOutside
	}
	t.VisibilityFrame = fs.FrameNumber
	return visible
}

// contentVisible checks the tighter content volume, when the tile has one.
func contentVisible(t *tile.Tile, fs *FrameState) bool {
	if t.VisibilityPlaneMask == geom.MaskInside || t.WorldContentVolume == nil {
		return t.VisibilityPlaneMask != geom.MaskOutside
	}
	return fs.CullingVolume.Visibility(t.WorldContentVolume) != geom.Outside
}
