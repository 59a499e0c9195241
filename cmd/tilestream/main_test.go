package main

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"

	"github.com/zhangxrk/cesium/internal/core/config"
	"github.com/zhangxrk/cesium/internal/geom"
	"github.com/zhangxrk/cesium/internal/tileset"
)

var lodEnv = []string{
	"MAX_SSE", "BASE_SSE", "SKIP_LOD", "SKIP_LEVELS", "SKIP_SSE_FACTOR", "IMMEDIATE_LOAD",
	"LOAD_SIBLINGS", "CULL_WITH_CHILDREN_BOUNDS", "DYNAMIC_SSE", "MAX_CACHED_TILES",
}

func TestLODOptions(t *testing.T) {
	for _, k := range lodEnv {
		t.Setenv(k, "")
	}
	got := lodOptions(config.FromEnv().LOD)
	if diff := cmp.Diff(tileset.DefaultOptions(), got); diff != "" {
		t.Fatalf("unset variables should keep defaults (-want +got):\n%s", diff)
	}

	got = lodOptions(config.LODCfg{
		MaxSSE:         8,
		BaseSSE:        256,
		SkipLOD:        true,
		SkipLevels:     2,
		SkipSSEFactor:  10,
		LoadSiblings:   true,
		MaxCachedTiles: 64,
	})
	want := tileset.DefaultOptions()
	want.MaximumScreenSpaceError = 8
	want.BaseScreenSpaceError = 256
	want.SkipLevelOfDetail = true
	want.SkipLevels = 2
	want.SkipScreenSpaceErrorFactor = 10
	want.LoadSiblings = true
	want.CullWithChildrenBounds = false
	want.MaximumCachedTiles = 64
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLODOptionsKeepsZeroAndRejectsInvalid(t *testing.T) {
	for _, k := range lodEnv {
		t.Setenv(k, "")
	}
	t.Setenv("SKIP_LEVELS", "0")
	t.Setenv("BASE_SSE", "0")

	got := lodOptions(config.FromEnv().LOD)
	if got.SkipLevels != 0 || got.BaseScreenSpaceError != 0 {
		t.Fatalf("zero values replaced: skip levels %d, base sse %g", got.SkipLevels, got.BaseScreenSpaceError)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("zero skip levels and base sse are legal: %v", err)
	}

	t.Setenv("MAX_SSE", "-5")
	got = lodOptions(config.FromEnv().LOD)
	if got.MaximumScreenSpaceError != -5 {
		t.Fatalf("max sse %g, want -5 passed through", got.MaximumScreenSpaceError)
	}
	if err := got.Validate(); !errors.Is(err, tileset.ErrInvalidOptions) {
		t.Fatalf("want ErrInvalidOptions, got %v", err)
	}
}

func TestFlythroughStaysOutsideVolume(t *testing.T) {
	sphere := geom.Sphere{C: mgl64.Vec3{10, 20, 30}, Radius: 50}
	fly := newFlythrough(sphere, 100)

	for _, n := range []uint64{1, 25, 50, 99, 100, 101} {
		cam := fly.camera(n)
		d := cam.Position.Sub(sphere.C).Len()
		if d <= sphere.Radius {
			t.Fatalf("frame %d: camera inside volume at distance %v", n, d)
		}
		toCenter := sphere.C.Sub(cam.Position).Normalize()
		if cam.Direction.Dot(toCenter) < 1-1e-9 {
			t.Fatalf("frame %d: camera not looking at center", n)
		}
	}

	// the loop restarts after one period
	if !fly.camera(1).Position.ApproxEqual(fly.camera(101).Position) {
		t.Fatal("flythrough does not repeat")
	}
	first := fly.camera(1).Position.Sub(sphere.C).Len()
	last := fly.camera(100).Position.Sub(sphere.C).Len()
	if last >= first {
		t.Fatalf("camera should approach the volume: %v then %v", first, last)
	}
}

func TestFlythroughFrustum(t *testing.T) {
	box := geom.OrientedBox{C: mgl64.Vec3{}, HalfAxes: mgl64.Diag3(mgl64.Vec3{3, 4, 0})}
	fly := newFlythrough(box, 0)
	if fly.period != 600 {
		t.Fatalf("period %d", fly.period)
	}
	if math.Abs(fly.radius-5) > 1e-9 {
		t.Fatalf("radius %v", fly.radius)
	}
	fr := fly.frustum(1600, 800)
	if fr.AspectRatio != 2 || fr.Near >= fr.Far {
		t.Fatalf("frustum %+v", fr)
	}
}
