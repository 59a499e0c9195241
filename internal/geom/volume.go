package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BoundingVolume is the shape a tile uses for culling and distance tests.
type BoundingVolume interface {
	Center() mgl64.Vec3
	// DistanceTo is the distance from point to the closest point of the
	// volume, zero when the point is inside.
	DistanceTo(point mgl64.Vec3) float64
	IntersectPlane(p Plane) Intersect
	// Transform returns a copy of the volume in the space of m.
	Transform(m mgl64.Mat4) BoundingVolume
}

type Sphere struct {
	C      mgl64.Vec3
	Radius float64
}

func (s Sphere) Center() mgl64.Vec3 { return s.C }

func (s Sphere) DistanceTo(point mgl64.Vec3) float64 {
	return math.Max(0, point.Sub(s.C).Len()-s.Radius)
}

func (s Sphere) IntersectPlane(p Plane) Intersect {
	d := p.Distance(s.C)
	if d < -s.Radius {
		return Outside
	}
	if d < s.Radius {
		return Intersecting
	}
	return Inside
}

func (s Sphere) Transform(m mgl64.Mat4) BoundingVolume {
	return Sphere{C: transformPoint(m, s.C), Radius: s.Radius * maxScale(m.Mat3())}
}

// OrientedBox is a box given by its center and three half-axis vectors, the
// columns of HalfAxes.
type OrientedBox struct {
	C        mgl64.Vec3
	HalfAxes mgl64.Mat3
}

// NewAxisAlignedBox builds an oriented box from min and max corners.
func NewAxisAlignedBox(minimum, maximum mgl64.Vec3) OrientedBox {
	c := minimum.Add(maximum).Mul(0.5)
	h := maximum.Sub(minimum).Mul(0.5)
	return OrientedBox{
		C: c,
		HalfAxes: mgl64.Mat3FromCols(
			mgl64.Vec3{h.X(), 0, 0},
			mgl64.Vec3{0, h.Y(), 0},
			mgl64.Vec3{0, 0, h.Z()},
		),
	}
}

func (b OrientedBox) Center() mgl64.Vec3 { return b.C }

func (b OrientedBox) DistanceTo(point mgl64.Vec3) float64 {
	offset := point.Sub(b.C)
	var d2 float64
	for i := range 3 {
		u := b.HalfAxes.Col(i)
		l := u.Len()
		if l == 0 {
			continue
		}
		d := offset.Dot(u.Mul(1 / l))
		switch {
		case d < -l:
			d2 += (d + l) * (d + l)
		case d > l:
			d2 += (d - l) * (d - l)
		}
	}
	return math.Sqrt(d2)
}

func (b OrientedBox) IntersectPlane(p Plane) Intersect {
	n := p.Normal
	r := math.Abs(n.Dot(b.HalfAxes.Col(0))) +
		math.Abs(n.Dot(b.HalfAxes.Col(1))) +
		math.Abs(n.Dot(b.HalfAxes.Col(2)))
	d := p.Distance(b.C)
	if d <= -r {
		return Outside
	}
	if d >= r {
		return Inside
	}
	return Intersecting
}

func (b OrientedBox) Transform(m mgl64.Mat4) BoundingVolume {
	return OrientedBox{C: transformPoint(m, b.C), HalfAxes: m.Mat3().Mul3(b.HalfAxes)}
}

// Corners returns the eight corners of the box.
func (b OrientedBox) Corners() [8]mgl64.Vec3 {
	u, v, w := b.HalfAxes.Col(0), b.HalfAxes.Col(1), b.HalfAxes.Col(2)
	var out [8]mgl64.Vec3
	i := 0
	for _, su := range [2]float64{-1, 1} {
		for _, sv := range [2]float64{-1, 1} {
			for _, sw := range [2]float64{-1, 1} {
				out[i] = b.C.Add(u.Mul(su)).Add(v.Mul(sv)).Add(w.Mul(sw))
				i++
			}
		}
	}
	return out
}

// ContainsPoint reports whether point lies inside the box, within eps along each axis.
func (b OrientedBox) ContainsPoint(point mgl64.Vec3, eps float64) bool {
	offset := point.Sub(b.C)
	for i := range 3 {
		u := b.HalfAxes.Col(i)
		l := u.Len()
		if l == 0 {
			if math.Abs(offset.Dot(u)) > eps {
				return false
			}
			continue
		}
		if math.Abs(offset.Dot(u.Mul(1/l))) > l+eps {
			return false
		}
	}
	return true
}

// Encloses reports whether inner lies entirely within outer. Only the
// sphere/sphere, box/box and box-in-sphere pairs are decided; anything else
// reports false.
func Encloses(outer, inner BoundingVolume, eps float64) bool {
	switch o := outer.(type) {
	case Sphere:
		switch in := inner.(type) {
		case Sphere:
			return in.C.Sub(o.C).Len()+in.Radius <= o.Radius+eps
		case OrientedBox:
			for _, c := range in.Corners() {
				if c.Sub(o.C).Len() > o.Radius+eps {
					return false
				}
			}
			return true
		}
	case OrientedBox:
		if in, ok := inner.(OrientedBox); ok {
			for _, c := range in.Corners() {
				if !o.ContainsPoint(c, eps) {
					return false
				}
			}
			return true
		}
	}
	return false
}

func transformPoint(m mgl64.Mat4, p mgl64.Vec3) mgl64.Vec3 {
	return m.Mul4x1(p.Vec4(1)).Vec3()
}

func maxScale(m mgl64.Mat3) float64 {
	return math.Max(m.Col(0).Len(), math.Max(m.Col(1).Len(), m.Col(2).Len()))
}
