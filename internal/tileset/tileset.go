// Package tileset decides, once per frame, which tiles of a streaming tile
// hierarchy to request, keep and render so that the on-screen error stays
// under a pixel budget.
package tileset

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zhangxrk/cesium/internal/cache"
	"github.com/zhangxrk/cesium/internal/tile"
)

// Strategy is the traversal SelectTiles used for a frame.
type Strategy uint8

const (
	// StrategyNone means the frame ended before any traversal ran.
	StrategyNone Strategy = iota
	StrategyBase
	StrategySkip
	StrategyBaseSkip
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyBase:
		return "base"
	case StrategySkip:
		return "skip"
	case StrategyBaseSkip:
		return "base+skip"
	default:
		return "unknown"
	}
}

// Statistics are the counters of the last SelectTiles call.
type Statistics struct {
	Visited                 int
	CulledWithChildrenUnion int
	Desired                 int
	Selected                int
	Requested               int
	ToStyle                 int
	FullyRefined            bool
	Strategy                Strategy
}

// Tileset owns a tile tree, its cache and the per-frame selection results.
type Tileset struct {
	log            *slog.Logger
	opts           Options
	tree           *tile.Tree
	geometricError float64
	allAdditive    bool
	cache          *cache.Cache
	tc             TraversalContext

	desired   []*tile.Tile
	selected  []*tile.Tile
	requested []*tile.Tile
	toStyle   []*tile.Tile

	hasMixedContent bool
	stats           Statistics
}

// New validates opts and wraps tree. geometricError is the error of not
// rendering the tileset at all.
func New(tree *tile.Tree, geometricError float64, opts Options, log *slog.Logger) (*Tileset, error) {
	if tree == nil || tree.Root() == nil {
		return nil, errors.New("tileset: tree has no root")
	}
	if geometricError < 0 {
		return nil, fmt.Errorf("%w: geometric error must not be negative, got %g", ErrInvalidOptions, geometricError)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ModelMatrix == (mgl64.Mat4{}) {
		opts.ModelMatrix = mgl64.Ident4()
	}
	if log == nil {
		log = slog.Default()
	}

	ts := &Tileset{
		log:            log,
		opts:           opts,
		tree:           tree,
		geometricError: geometricError,
		allAdditive:    tree.AllAdditive(),
		cache:          cache.New(),
	}
	log.Debug("tileset created",
		"tiles", tree.Len(),
		"geometric_error", geometricError,
		"all_additive", ts.allAdditive,
		"skip_lod", opts.SkipLevelOfDetail)
	return ts, nil
}

func (ts *Tileset) Tree() *tile.Tree        { return ts.tree }
func (ts *Tileset) Root() *tile.Tile        { return ts.tree.Root() }
func (ts *Tileset) Options() Options        { return ts.opts }
func (ts *Tileset) Cache() *cache.Cache     { return ts.cache }
func (ts *Tileset) GeometricError() float64 { return ts.geometricError }

// Desired are the tiles the traversal wants at their current level of detail.
func (ts *Tileset) Desired() []*tile.Tile { return ts.desired }

// Selected are the tiles to render this frame, descendants before ancestors.
func (ts *Tileset) Selected() []*tile.Tile { return ts.selected }

// Requested are the tiles whose content should be fetched, with Priority set.
func (ts *Tileset) Requested() []*tile.Tile { return ts.requested }

// SelectedToStyle are the selected tiles whose style must be re-applied.
func (ts *Tileset) SelectedToStyle() []*tile.Tile { return ts.toStyle }

// HasMixedContent reports whether a selected tile is drawn together with one
// of its selected ancestors, which needs stencil compositing.
func (ts *Tileset) HasMixedContent() bool { return ts.hasMixedContent }

func (ts *Tileset) Statistics() Statistics { return ts.stats }

// TreeChanged must be called after tiles are grafted into the tree.
func (ts *Tileset) TreeChanged() {
	ts.allAdditive = ts.tree.AllAdditive()
}

// AddResident registers a tile whose content just arrived with the cache.
func (ts *Tileset) AddResident(t *tile.Tile, frame uint64) {
	ts.cache.Add(t.ID, frame)
}

// TrimCache unloads the least recently used content until the cache holds at
// most MaximumCachedTiles tiles. Tiles used in the last frame are kept.
func (ts *Tileset) TrimCache() []*tile.Tile {
	var unloaded []*tile.Tile
	ts.cache.Trim(ts.opts.MaximumCachedTiles, func(id tile.ID) {
		if t := ts.tree.Get(id); t != nil {
			t.Unload()
			unloaded = append(unloaded, t)
		}
	})
	return unloaded
}

// SelectTiles runs the traversal for one frame and rebuilds every output list.
func (ts *Tileset) SelectTiles(fs *FrameState) {
	if ts.opts.DebugFreezeFrame {
		return
	}

	ts.desired = ts.desired[:0]
	ts.selected = ts.selected[:0]
	ts.requested = ts.requested[:0]
	ts.toStyle = ts.toStyle[:0]
	ts.hasMixedContent = false
	ts.stats = Statistics{}

	ts.cache.Reset(fs.FrameNumber)

	root := ts.tree.Root()
	if root == nil {
		return
	}
	maxSSE := ts.opts.MaximumScreenSpaceError

	rootVisible := ts.updateTile(root, fs) && ts.updateVisibility(root, maxSSE, fs)
	if !rootVisible {
		return
	}

	// the tileset is small enough on screen that it need not be rendered
	if ts.screenSpaceError(ts.geometricError, root, fs) <= maxSSE {
		return
	}

	ts.loadTile(root, fs)
	ts.touch(root, fs)

	switch {
	case !ts.opts.SkipLevelOfDetail || ts.allAdditive:
		ts.stats.Strategy = StrategyBase
		ts.selectBaseTraversal(root, fs)
	case ts.opts.ImmediatelyLoadDesiredLevelOfDetail:
		ts.stats.Strategy = StrategySkip
		ts.selectSkipTraversal(root, fs)
	default:
		ts.stats.Strategy = StrategyBaseSkip
		ts.selectBaseAndSkipTraversal(root, fs)
	}

	ts.stats.Desired = len(ts.desired)
	ts.stats.Selected = len(ts.selected)
	ts.stats.Requested = len(ts.requested)
	ts.stats.ToStyle = len(ts.toStyle)

	ts.tc.trim()
}
