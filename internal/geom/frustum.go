package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Camera is a position plus an orthonormal right-handed basis. Right is
// Direction × Up.
type Camera struct {
	Position  mgl64.Vec3
	Direction mgl64.Vec3
	Up        mgl64.Vec3
}

// LookAt builds a camera at eye looking at target with the given approximate up vector.
func LookAt(eye, target, up mgl64.Vec3) Camera {
	dir := target.Sub(eye).Normalize()
	right := dir.Cross(up).Normalize()
	return Camera{Position: eye, Direction: dir, Up: right.Cross(dir).Normalize()}
}

func (c Camera) Right() mgl64.Vec3 {
	return c.Direction.Cross(c.Up).Normalize()
}

// Frustum is the projection half of a view: it knows its culling planes for a
// camera and how big a pixel is.
type Frustum interface {
	CullingVolume(c Camera) *CullingVolume
}

// PerspectiveFrustum is a symmetric perspective projection.
type PerspectiveFrustum struct {
	FovY        float64 // radians
	AspectRatio float64 // width / height
	Near        float64
	Far         float64
}

// SSEDenominator converts geometric error at unit distance into a fraction of
// the viewport height.
func (f PerspectiveFrustum) SSEDenominator() float64 {
	return 2.0 * math.Tan(0.5*f.FovY)
}

func (f PerspectiveFrustum) CullingVolume(c Camera) *CullingVolume {
	t := f.Near * math.Tan(0.5*f.FovY)
	r := f.AspectRatio * t
	l, b := -r, -t

	pos, dir, up := c.Position, c.Direction, c.Up
	right := c.Right()
	nearCenter := pos.Add(dir.Mul(f.Near))
	farCenter := pos.Add(dir.Mul(f.Far))

	edge := func(offset mgl64.Vec3) mgl64.Vec3 {
		return nearCenter.Add(offset).Sub(pos).Normalize()
	}

	left := edge(right.Mul(l)).Cross(up).Normalize()
	rgt := up.Cross(edge(right.Mul(r))).Normalize()
	bottom := right.Cross(edge(up.Mul(b))).Normalize()
	top := edge(up.Mul(t)).Cross(right).Normalize()

	return &CullingVolume{Planes: []Plane{
		PlaneFromPointNormal(pos, left),
		PlaneFromPointNormal(pos, rgt),
		PlaneFromPointNormal(pos, bottom),
		PlaneFromPointNormal(pos, top),
		PlaneFromPointNormal(nearCenter, dir),
		PlaneFromPointNormal(farCenter, dir.Mul(-1)),
	}}
}

// OrthographicFrustum is a box-shaped projection Width wide along the camera's right axis.
type OrthographicFrustum struct {
	Width       float64
	AspectRatio float64 // width / height
	Near        float64
	Far         float64
}

// Extents returns the half extents of the view rectangle.
func (f OrthographicFrustum) Extents() (right, top float64) {
	right = 0.5 * f.Width
	top = right / f.AspectRatio
	return right, top
}

func (f OrthographicFrustum) CullingVolume(c Camera) *CullingVolume {
	r, t := f.Extents()
	pos, dir, up := c.Position, c.Direction, c.Up
	right := c.Right()
	nearCenter := pos.Add(dir.Mul(f.Near))
	farCenter := pos.Add(dir.Mul(f.Far))

	return &CullingVolume{Planes: []Plane{
		PlaneFromPointNormal(nearCenter.Add(right.Mul(-r)), right),
		PlaneFromPointNormal(nearCenter.Add(right.Mul(r)), right.Mul(-1)),
		PlaneFromPointNormal(nearCenter.Add(up.Mul(-t)), up),
		PlaneFromPointNormal(nearCenter.Add(up.Mul(t)), up.Mul(-1)),
		PlaneFromPointNormal(nearCenter, dir),
		PlaneFromPointNormal(farCenter, dir.Mul(-1)),
	}}
}
