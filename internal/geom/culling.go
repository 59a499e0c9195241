// Package geom holds the small amount of camera and bounding-volume math the
// tile traversal needs: planes, culling volumes, bounding volumes and frustums.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon7 guards the screen space error division when the camera is inside a tile.
const Epsilon7 = 1e-7

// Intersect is the result of testing a volume against a plane or a culling volume.
type Intersect int8

const (
	Outside      Intersect = -1
	Intersecting Intersect = 0
	Inside       Intersect = 1
)

func (i Intersect) String() string {
	switch i {
	case Outside:
		return "outside"
	case Intersecting:
		return "intersecting"
	case Inside:
		return "inside"
	default:
		return "unknown"
	}
}

// PlaneMask records, one bit per plane, which planes of a culling volume a
// volume still straddles. A child can skip every plane its parent is fully
// inside of.
type PlaneMask uint32

const (
	MaskInside        PlaneMask = 0x00000000
	MaskOutside       PlaneMask = 0xffffffff
	MaskIndeterminate PlaneMask = 0x7fffffff
)

// Plane is n·p + D = 0 with a unit normal. Points with positive distance are inside.
type Plane struct {
	Normal mgl64.Vec3
	D      float64
}

// PlaneFromPointNormal builds the plane through point with the given normal.
func PlaneFromPointNormal(point, normal mgl64.Vec3) Plane {
	n := normal.Normalize()
	return Plane{Normal: n, D: -n.Dot(point)}
}

func (p Plane) Distance(point mgl64.Vec3) float64 {
	return p.Normal.Dot(point) + p.D
}

// CullingVolume is a convex set of planes, usually the six planes of a view frustum.
type CullingVolume struct {
	Planes []Plane
}

// Visibility tests a volume against every plane.
func (cv *CullingVolume) Visibility(bv BoundingVolume) Intersect {
	intersecting := false
	for _, p := range cv.Planes {
		switch bv.IntersectPlane(p) {
		case Outside:
			return Outside
		case Intersecting:
			intersecting = true
		}
	}
	if intersecting {
		return Intersecting
	}
	return Inside
}

// VisibilityWithPlaneMask tests bv against the planes not already proven
// inside by parentMask and returns the mask for bv's own children.
func (cv *CullingVolume) VisibilityWithPlaneMask(bv BoundingVolume, parentMask PlaneMask) PlaneMask {
	if parentMask == MaskOutside || parentMask == MaskInside {
		return parentMask
	}

	mask := MaskInside
	for k, p := range cv.Planes {
		var bit PlaneMask = 1 << uint(k)
		if k < 31 && parentMask&bit == 0 {
			continue
		}
		switch bv.IntersectPlane(p) {
		case Outside:
			return MaskOutside
		case Intersecting:
			mask |= bit
		}
	}
	return mask
}

// Fog is the exponential squared fog term used to relax the screen space
// error of distant tiles.
func Fog(distance, density float64) float64 {
	scalar := distance * density
	return 1.0 - math.Exp(-(scalar * scalar))
}
