// Package tile defines the node of the streaming tile hierarchy and the arena
// tree that owns the nodes.
package tile

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zhangxrk/cesium/internal/geom"
)

// ID addresses a tile inside its Tree.
type ID int32

// None is the ID of a missing tile, e.g. the parent of the root.
const None ID = -1

// Refine tells how a tile's children relate to its own content.
type Refine uint8

const (
	// RefineReplace children supersede the parent once loaded.
	RefineReplace Refine = iota
	// RefineAdd children are drawn together with the parent.
	RefineAdd
)

func (r Refine) String() string {
	switch r {
	case RefineReplace:
		return "REPLACE"
	case RefineAdd:
		return "ADD"
	default:
		return "unknown"
	}
}

// ContentState is the loader-owned lifecycle of a tile's content.
type ContentState uint8

const (
	StateUnloaded ContentState = iota
	StateLoading
	StateAvailable
	StateExpired
	StateEmpty
	StateFailed
)

func (s ContentState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateAvailable:
		return "available"
	case StateExpired:
		return "expired"
	case StateEmpty:
		return "empty"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OptimizationHint records whether all children fit inside the tile's own
// bounding volume, which allows culling the tile when no child is visible.
type OptimizationHint uint8

const (
	NotComputed OptimizationHint = iota
	UseOptimization
	SkipOptimization
)

// Tile is one node of the hierarchy. Hierarchy fields are fixed once the tile
// is added to a Tree, content fields belong to the loader, and the per-frame
// fields are written only by the tileset traversal.
type Tile struct {
	ID       ID
	Parent   ID
	Children []ID
	Depth    int

	BoundingVolume        geom.BoundingVolume
	ContentBoundingVolume geom.BoundingVolume
	ViewerRequestVolume   geom.BoundingVolume
	Transform             mgl64.Mat4
	GeometricError        float64
	Refine                Refine
	ContentURI            string

	OptimChildrenWithinParent OptimizationHint

	State                  ContentState
	HasTilesetContent      bool
	ExpireAt               time.Time
	Payload                []byte
	FeaturePropertiesDirty bool
	LastStyleTime          float64

	// Per-frame traversal state.
	ComputedTransform            mgl64.Mat4
	WorldBoundingVolume          geom.BoundingVolume
	WorldContentVolume           geom.BoundingVolume
	WorldRequestVolume           geom.BoundingVolume
	ScreenSpaceError             float64
	DistanceToCamera             float64
	CenterZDepth                 float64
	VisibilityPlaneMask          geom.PlaneMask
	AncestorWithContentAvailable ID
	SelectionDepth               int
	FinalResolution              bool
	Priority                     float64
	Refines                      bool

	UpdatedFrame    uint64
	VisibilityFrame uint64
	VisitedFrame    uint64
	TouchedFrame    uint64
	RequestedFrame  uint64
	DesiredFrame    uint64
	// SelectedFrame survives across frames so a newly selected tile can be detected.
	SelectedFrame uint64
}

// New returns an unattached tile with an identity transform and no content.
func New(bv geom.BoundingVolume, geometricError float64, refine Refine) *Tile {
	return &Tile{
		ID:                           None,
		Parent:                       None,
		BoundingVolume:               bv,
		Transform:                    mgl64.Ident4(),
		ComputedTransform:            mgl64.Ident4(),
		GeometricError:               geometricError,
		Refine:                       refine,
		AncestorWithContentAvailable: None,
	}
}

// ContentAvailable reports whether there is renderable content, including
// expired content that is still shown until its replacement arrives.
func (t *Tile) ContentAvailable() bool {
	if t.HasTilesetContent {
		return false
	}
	switch t.State {
	case StateAvailable, StateExpired:
		return true
	case StateUnloaded, StateLoading, StateEmpty, StateFailed:
		return false
	default:
		return false
	}
}

func (t *Tile) ContentUnloaded() bool { return t.State == StateUnloaded }

func (t *Tile) ContentExpired() bool { return t.State == StateExpired }

func (t *Tile) HasEmptyContent() bool { return t.State == StateEmpty }

// UpdateExpiration moves available content past its expiry date to the expired state.
func (t *Tile) UpdateExpiration(now time.Time) {
	if t.State != StateAvailable || t.ExpireAt.IsZero() || now.IsZero() {
		return
	}
	if !now.Before(t.ExpireAt) {
		t.State = StateExpired
	}
}

// Unload drops the content and returns the tile to the unloaded state. Empty
// tiles stay empty since there is nothing to fetch again.
func (t *Tile) Unload() {
	t.Payload = nil
	if t.State != StateEmpty {
		t.State = StateUnloaded
	}
}
