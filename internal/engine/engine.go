// Package engine runs the per-frame loop around a tileset: it applies
// finished loads and expirations, selects tiles, schedules requests and
// trims the cache.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/zhangxrk/cesium/internal/cache/keys"
	"github.com/zhangxrk/cesium/internal/content"
	"github.com/zhangxrk/cesium/internal/core/observability"
	"github.com/zhangxrk/cesium/internal/logger"
	"github.com/zhangxrk/cesium/internal/tile"
	"github.com/zhangxrk/cesium/internal/tile/tilesetjson"
	"github.com/zhangxrk/cesium/internal/tileset"
)

// Scheduler is the part of content.Scheduler the engine drives.
type Scheduler interface {
	Schedule(requested []*tile.Tile) int
	Drain() []content.Result
}

// FrameSummary describes the outcome of one frame.
type FrameSummary struct {
	Frame        uint64    `json:"frame"`
	Strategy     string    `json:"strategy"`
	Visited      int       `json:"visited"`
	Desired      int       `json:"desired"`
	Selected     []tile.ID `json:"selected"`
	Requested    int       `json:"requested"`
	Scheduled    int       `json:"scheduled"`
	Loaded       int       `json:"loaded"`
	Failed       int       `json:"failed"`
	Expired      int       `json:"expired"`
	Evicted      int       `json:"evicted"`
	Resident     int       `json:"resident"`
	ToStyle      int       `json:"to_style"`
	FullyRefined bool      `json:"fully_refined"`
	MixedContent bool      `json:"mixed_content"`
	DurationMS   float64   `json:"duration_ms"`
}

type Engine struct {
	log   *slog.Logger
	ts    *tileset.Tileset
	sched Scheduler

	// uri index, rebuilt when tiles are grafted
	byURI     map[string][]tile.ID
	indexedAt int

	mu      sync.Mutex
	pending []string
	last    FrameSummary
	frames  uint64
}

func New(ts *tileset.Tileset, sched Scheduler, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log, ts: ts, sched: sched}
}

func (e *Engine) Tileset() *tileset.Tileset { return e.ts }

// Expire marks the content behind uris as expired at the start of the next
// frame. Safe to call from any goroutine.
func (e *Engine) Expire(uris ...string) {
	if len(uris) == 0 {
		return
	}
	e.mu.Lock()
	e.pending = append(e.pending, uris...)
	e.mu.Unlock()
}

// LastFrame returns the summary of the most recent frame.
func (e *Engine) LastFrame() FrameSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Ready reports whether at least one frame ran.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames > 0
}

// Frame processes one frame. It must be called from a single goroutine with
// increasing frame numbers.
func (e *Engine) Frame(ctx context.Context, fs *tileset.FrameState) FrameSummary {
	start := time.Now()
	ctx = logger.WithFrame(logger.WithComponent(ctx, "engine"), fs.FrameNumber)
	sum := FrameSummary{Frame: fs.FrameNumber}

	if e.sched != nil {
		sum.Loaded, sum.Failed = e.applyResults(ctx, e.sched.Drain(), fs)
	}
	sum.Expired = e.applyExpirations()

	e.ts.SelectTiles(fs)

	if e.sched != nil {
		sum.Scheduled = e.sched.Schedule(e.ts.Requested())
	}
	sum.Evicted = len(e.ts.TrimCache())

	st := e.ts.Statistics()
	sum.Strategy = st.Strategy.String()
	sum.Visited = st.Visited
	sum.Desired = st.Desired
	sum.Requested = st.Requested
	sum.ToStyle = st.ToStyle
	sum.FullyRefined = st.FullyRefined
	sum.MixedContent = e.ts.HasMixedContent()
	sum.Resident = e.ts.Cache().Len()
	sum.Selected = make([]tile.ID, 0, len(e.ts.Selected()))
	for _, t := range e.ts.Selected() {
		sum.Selected = append(sum.Selected, t.ID)
	}
	elapsed := time.Since(start)
	sum.DurationMS = float64(elapsed.Microseconds()) / 1000

	observability.ObserveFrame(observability.FrameSample{
		Strategy:        sum.Strategy,
		Visited:         sum.Visited,
		Desired:         sum.Desired,
		Selected:        len(sum.Selected),
		Requested:       sum.Requested,
		Scheduled:       sum.Scheduled,
		CulledByBounds:  st.CulledWithChildrenUnion,
		Evicted:         sum.Evicted,
		Resident:        sum.Resident,
		DurationSeconds: elapsed.Seconds(),
	})
	e.log.DebugContext(ctx, "frame done",
		"strategy", sum.Strategy,
		"visited", sum.Visited,
		"selected", len(sum.Selected),
		"requested", sum.Requested,
		"scheduled", sum.Scheduled,
		"evicted", sum.Evicted,
		"duration", elapsed)

	e.mu.Lock()
	e.last = sum
	e.frames++
	e.mu.Unlock()
	return sum
}

// applyResults moves finished fetches into the tree. Tileset content is
// parsed and grafted under its tile.
func (e *Engine) applyResults(ctx context.Context, results []content.Result, fs *tileset.FrameState) (loaded, failed int) {
	tree := e.ts.Tree()
	grafted := false
	for _, r := range results {
		t := tree.Get(r.ID)
		if t == nil {
			continue
		}
		switch {
		case errors.Is(r.Err, content.ErrNotFound):
			t.Payload = nil
			t.State = tile.StateEmpty
			e.ts.Cache().Remove(t.ID)
		case errors.Is(r.Err, context.Canceled):
			if t.State == tile.StateLoading {
				t.State = tile.StateUnloaded
			}
		case r.Err != nil:
			failed++
			t.Payload = nil
			t.State = tile.StateFailed
			e.ts.Cache().Remove(t.ID)
			e.log.WarnContext(ctx, "tile content failed", "tile", int(t.ID), "uri", r.URI, "err", r.Err)
		case t.HasTilesetContent:
			if err := e.graft(t, r.Payload); err != nil {
				failed++
				t.State = tile.StateFailed
				e.log.WarnContext(ctx, "external tileset rejected", "tile", int(t.ID), "uri", r.URI, "err", err)
				continue
			}
			grafted = true
			loaded++
		default:
			t.Payload = r.Payload
			t.State = tile.StateAvailable
			// an expiry date that already passed was for the previous payload
			if !t.ExpireAt.IsZero() && !fs.Time.Before(t.ExpireAt) {
				t.ExpireAt = time.Time{}
			}
			e.ts.AddResident(t, fs.FrameNumber)
			loaded++
		}
	}
	if grafted {
		e.ts.TreeChanged()
	}
	return loaded, failed
}

func (e *Engine) graft(t *tile.Tile, payload []byte) error {
	sub, err := tilesetjson.Parse(payload)
	if err != nil {
		return err
	}
	// content of an external tileset is relative to the tileset itself
	base := path.Dir(keys.NormalizeURI(t.ContentURI))
	sub.Tree.Walk(0, func(c *tile.Tile) bool {
		c.ContentURI = resolveURI(base, c.ContentURI)
		return true
	})
	if _, err := e.ts.Tree().Graft(t.ID, sub.Tree); err != nil {
		return err
	}
	// tileset content stays in the tree once grafted; it is not reloaded
	t.State = tile.StateAvailable
	t.ExpireAt = time.Time{}
	return nil
}

func resolveURI(base, uri string) string {
	if uri == "" || strings.HasPrefix(uri, "/") || strings.Contains(uri, "://") {
		return uri
	}
	return keys.NormalizeURI(path.Join(base, uri))
}

// applyExpirations marks available content behind the pending uris expired.
// Tileset tiles are skipped since their subtree is never replaced.
func (e *Engine) applyExpirations() int {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	if len(pending) == 0 {
		return 0
	}

	tree := e.ts.Tree()
	if e.byURI == nil || e.indexedAt != tree.Len() {
		e.byURI = make(map[string][]tile.ID, tree.Len())
		tree.Walk(tree.Root().ID, func(t *tile.Tile) bool {
			if t.ContentURI != "" && !t.HasTilesetContent {
				u := keys.NormalizeURI(t.ContentURI)
				e.byURI[u] = append(e.byURI[u], t.ID)
			}
			return true
		})
		e.indexedAt = tree.Len()
	}

	n := 0
	for _, uri := range pending {
		for _, id := range e.byURI[keys.NormalizeURI(uri)] {
			if t := tree.Get(id); t != nil && t.State == tile.StateAvailable {
				t.State = tile.StateExpired
				n++
			}
		}
	}
	observability.AddExpiredTiles(n)
	return n
}
