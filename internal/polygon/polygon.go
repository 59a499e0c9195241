// Package polygon turns a planar polygon given in 3D into a triangle list.
// Degenerate input yields no geometry instead of an error so a bad polygon
// only costs the content it belongs to.
package polygon

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zhangxrk/cesium/internal/geom"
)

// relative tolerance for duplicate points and zero area
const epsilon = 1e-10

// Geometry is a triangulated polygon.
type Geometry struct {
	// Positions are the input points without duplicates. They wind counter
	// clockwise around Normal.
	Positions []mgl64.Vec3
	// Source maps every position back to its index in the input.
	Source  []int
	Normal  mgl64.Vec3
	Indices []int
	Bounds  geom.Sphere
}

// Build projects points onto their plane and ear-clips the result. It
// returns false when fewer than three distinct points remain or the polygon
// has no area.
func Build(points []mgl64.Vec3) (*Geometry, bool) {
	pos, src := removeDuplicates(points)
	if len(pos) < 3 {
		return nil, false
	}
	for _, p := range pos {
		if math.IsNaN(p[0]+p[1]+p[2]) || math.IsInf(p[0]+p[1]+p[2], 0) {
			return nil, false
		}
	}

	normal, ok := newellNormal(pos)
	if !ok {
		return nil, false
	}
	// the basis follows the Newell normal, so the projection always winds
	// counter clockwise
	indices := earClip(project(pos, normal))
	if len(indices) < 3 {
		return nil, false
	}
	return &Geometry{
		Positions: pos,
		Source:    src,
		Normal:    normal,
		Indices:   indices,
		Bounds:    boundingSphere(pos),
	}, true
}

// Triangulate returns triangles as indices into points.
func Triangulate(points []mgl64.Vec3) ([]int, bool) {
	g, ok := Build(points)
	if !ok {
		return nil, false
	}
	out := make([]int, len(g.Indices))
	for i, idx := range g.Indices {
		out[i] = g.Source[idx]
	}
	return out, true
}

func equalsEpsilon(a, b mgl64.Vec3) bool {
	for i := range 3 {
		d := math.Abs(a[i] - b[i])
		scale := math.Max(1, math.Max(math.Abs(a[i]), math.Abs(b[i])))
		if !(d <= epsilon*scale) {
			return false
		}
	}
	return true
}

// removeDuplicates drops consecutive equal points, including a last point
// that repeats the first.
func removeDuplicates(points []mgl64.Vec3) ([]mgl64.Vec3, []int) {
	pos := make([]mgl64.Vec3, 0, len(points))
	src := make([]int, 0, len(points))
	for i, p := range points {
		if len(pos) > 0 && equalsEpsilon(pos[len(pos)-1], p) {
			continue
		}
		pos = append(pos, p)
		src = append(src, i)
	}
	for len(pos) > 1 && equalsEpsilon(pos[0], pos[len(pos)-1]) {
		pos = pos[:len(pos)-1]
		src = src[:len(src)-1]
	}
	return pos, src
}

// newellNormal is the normal of the plane that best fits a closed polygon.
// Its length is twice the projected area, so a zero normal means no area.
func newellNormal(pos []mgl64.Vec3) (mgl64.Vec3, bool) {
	var n mgl64.Vec3
	var extent float64
	for i, cur := range pos {
		next := pos[(i+1)%len(pos)]
		n[0] += (cur[1] - next[1]) * (cur[2] + next[2])
		n[1] += (cur[2] - next[2]) * (cur[0] + next[0])
		n[2] += (cur[0] - next[0]) * (cur[1] + next[1])
		extent = math.Max(extent, cur.Sub(pos[0]).Len())
	}
	l := n.Len()
	if extent == 0 || l <= epsilon*extent*extent {
		return mgl64.Vec3{}, false
	}
	return n.Mul(1 / l), true
}

// project expresses pos in a right handed basis of the plane through their
// centroid with the given normal.
func project(pos []mgl64.Vec3, normal mgl64.Vec3) []mgl64.Vec2 {
	var origin mgl64.Vec3
	for _, p := range pos {
		origin = origin.Add(p)
	}
	origin = origin.Mul(1 / float64(len(pos)))

	// any axis not parallel to the normal seeds the basis
	seed := mgl64.Vec3{1, 0, 0}
	if math.Abs(normal[0]) > 0.9 {
		seed = mgl64.Vec3{0, 1, 0}
	}
	xAxis := seed.Sub(normal.Mul(seed.Dot(normal))).Normalize()
	yAxis := normal.Cross(xAxis)

	out := make([]mgl64.Vec2, len(pos))
	for i, p := range pos {
		v := p.Sub(origin)
		out[i] = mgl64.Vec2{v.Dot(xAxis), v.Dot(yAxis)}
	}
	return out
}

func cross(o, a, b mgl64.Vec2) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// earClip triangulates a simple counter clockwise polygon. Collinear
// vertices are dropped without emitting a triangle. It returns nil when no
// ear can be found, which happens for self intersecting input.
func earClip(pts []mgl64.Vec2) []int {
	var minP, maxP mgl64.Vec2 = pts[0], pts[0]
	for _, p := range pts {
		minP = mgl64.Vec2{math.Min(minP[0], p[0]), math.Min(minP[1], p[1])}
		maxP = mgl64.Vec2{math.Max(maxP[0], p[0]), math.Max(maxP[1], p[1])}
	}
	diag := maxP.Sub(minP).Len()
	areaEps := epsilon * diag * diag

	ring := make([]int, len(pts))
	for i := range ring {
		ring[i] = i
	}
	out := make([]int, 0, 3*(len(pts)-2))

	for len(ring) > 3 {
		clipped := false
		for i := range ring {
			a := ring[(i+len(ring)-1)%len(ring)]
			b := ring[i]
			c := ring[(i+1)%len(ring)]
			turn := cross(pts[a], pts[b], pts[c])
			if math.Abs(turn) <= areaEps {
				ring = append(ring[:i], ring[i+1:]...)
				clipped = true
				break
			}
			if turn < 0 || !isEar(pts, ring, a, b, c) {
				continue
			}
			out = append(out, a, b, c)
			ring = append(ring[:i], ring[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			return nil
		}
	}
	if cross(pts[ring[0]], pts[ring[1]], pts[ring[2]]) > areaEps {
		out = append(out, ring[0], ring[1], ring[2])
	}
	return out
}

// isEar reports whether no other ring vertex lies inside or on triangle abc.
func isEar(pts []mgl64.Vec2, ring []int, a, b, c int) bool {
	for _, j := range ring {
		if j == a || j == b || j == c {
			continue
		}
		p := pts[j]
		if p == pts[a] || p == pts[b] || p == pts[c] {
			continue
		}
		if cross(pts[a], pts[b], p) >= 0 && cross(pts[b], pts[c], p) >= 0 && cross(pts[c], pts[a], p) >= 0 {
			return false
		}
	}
	return true
}

func boundingSphere(pos []mgl64.Vec3) geom.Sphere {
	var c mgl64.Vec3
	for _, p := range pos {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pos)))
	var r float64
	for _, p := range pos {
		r = math.Max(r, p.Sub(c).Len())
	}
	return geom.Sphere{C: c, Radius: r}
}
