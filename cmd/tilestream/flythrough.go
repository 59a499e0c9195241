package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zhangxrk/cesium/internal/geom"
)

// flythrough circles a bounding volume while spiralling from far above it
// down to its surface, then starts over.
type flythrough struct {
	center mgl64.Vec3
	radius float64
	period uint64 // frames per loop
}

func newFlythrough(bv geom.BoundingVolume, period uint64) flythrough {
	r := 1.0
	switch v := bv.(type) {
	case geom.Sphere:
		r = v.Radius
	case geom.OrientedBox:
		r = v.Corners()[0].Sub(v.C).Len()
	}
	if r <= 0 {
		r = 1
	}
	if period == 0 {
		period = 600
	}
	return flythrough{center: bv.Center(), radius: r, period: period}
}

// camera is the view at frame n (starting at 1).
func (f flythrough) camera(n uint64) geom.Camera {
	t := float64((n-1)%f.period) / float64(f.period)
	theta := 2 * math.Pi * t
	// distance falls from 4 radii to just outside the volume
	d := f.radius * (4 - 2.9*t)
	eye := f.center.Add(mgl64.Vec3{
		d * math.Cos(theta),
		d * math.Sin(theta),
		0.5 * d,
	})
	return geom.LookAt(eye, f.center, mgl64.Vec3{0, 0, 1})
}

func (f flythrough) frustum(width, height int) geom.PerspectiveFrustum {
	return geom.PerspectiveFrustum{
		FovY:        math.Pi / 3,
		AspectRatio: float64(width) / float64(height),
		Near:        f.radius * 1e-3,
		Far:         f.radius * 20,
	}
}
