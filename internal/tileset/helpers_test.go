package tileset

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zhangxrk/cesium/internal/geom"
	"github.com/zhangxrk/cesium/internal/tile"
)

// node describes a test tile and its subtree.
type node struct {
	center   mgl64.Vec3
	radius   float64
	err      float64
	refine   tile.Refine
	state    tile.ContentState
	children []node
}

func sphere(x, y, z, r float64) (mgl64.Vec3, float64) {
	return mgl64.Vec3{x, y, z}, r
}

// buildTree adds n and its descendants in preorder and returns the tree.
func buildTree(t *testing.T, n node) *tile.Tree {
	t.Helper()
	tr := tile.NewTree()
	var add func(parent tile.ID, n node)
	add = func(parent tile.ID, n node) {
		tl := tile.New(geom.Sphere{C: n.center, Radius: n.radius}, n.err, n.refine)
		tl.State = n.state
		id, err := tr.Add(parent, tl)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		for _, c := range n.children {
			add(id, c)
		}
	}
	add(tile.None, n)
	return tr
}

func newTileset(t *testing.T, tr *tile.Tree, geometricError float64, mutate func(*Options)) *Tileset {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	ts, err := New(tr, geometricError, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ts
}

// frameAt looks from eye at the origin with a 60 degree, 1000x1000 view.
func frameAt(t *testing.T, frame uint64, eye mgl64.Vec3) *FrameState {
	t.Helper()
	return frameLooking(t, frame, eye, mgl64.Vec3{0, 0, 0})
}

func frameLooking(t *testing.T, frame uint64, eye, target mgl64.Vec3) *FrameState {
	t.Helper()
	cam := geom.LookAt(eye, target, mgl64.Vec3{0, 1, 0})
	fr := geom.PerspectiveFrustum{FovY: math.Pi / 3, AspectRatio: 1, Near: 0.1, Far: 1e6}
	fs, err := NewFrameState(frame, time.Unix(0, 0), Scene3D, cam, fr, 1000, 1000)
	if err != nil {
		t.Fatalf("NewFrameState: %v", err)
	}
	return fs
}

func ids(tiles []*tile.Tile) []tile.ID {
	out := make([]tile.ID, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, t.ID)
	}
	return out
}

func contains(tiles []*tile.Tile, id tile.ID) bool {
	for _, t := range tiles {
		if t.ID == id {
			return true
		}
	}
	return false
}

// quad is a replace root at the origin with four leaf children.
func quad(rootState tile.ContentState, childStates [4]tile.ContentState) node {
	c0, r0 := sphere(0, 0, 0, 10)
	n := node{center: c0, radius: r0, err: 100, refine: tile.RefineReplace, state: rootState}
	offsets := [4][2]float64{{-5, -5}, {5, -5}, {-5, 5}, {5, 5}}
	for i, o := range offsets {
		c, r := sphere(o[0], o[1], 0, 5)
		n.children = append(n.children, node{center: c, radius: r, err: 0, refine: tile.RefineReplace, state: childStates[i]})
	}
	return n
}

var (
	eye100    = mgl64.Vec3{0, 0, 100}
	allLoaded = [4]tile.ContentState{tile.StateAvailable, tile.StateAvailable, tile.StateAvailable, tile.StateAvailable}
	noneReady = [4]tile.ContentState{}
)
