package content

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhangxrk/cesium/internal/core/observability"
	"github.com/zhangxrk/cesium/internal/tile"
)

// Scheduler turns a frame's requested tiles into bounded concurrent fetches.
// Workers never touch tiles: results are queued until Drain.
type Scheduler struct {
	store   Store
	source  string
	timeout time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group

	mu       sync.Mutex
	inflight map[tile.ID]struct{}
	done     []Result
}

// NewScheduler runs at most maxConcurrent fetches at a time. source labels
// the fetch metrics, e.g. "redis" or "dir".
func NewScheduler(store Store, source string, maxConcurrent int, timeout time.Duration, log *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:    store,
		source:   source,
		timeout:  timeout,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[tile.ID]struct{}),
	}
	s.g.SetLimit(maxConcurrent)
	return s
}

// Schedule starts fetches for requested, most urgent (lowest priority) first.
// Tiles already in flight are skipped; once every worker is busy the rest
// are left for a later frame, which will request them again. Unloaded tiles
// move to Loading; expired tiles keep rendering until the new payload lands.
// It returns the number of fetches started.
func (s *Scheduler) Schedule(requested []*tile.Tile) int {
	if s.ctx.Err() != nil || len(requested) == 0 {
		return 0
	}
	queue := slices.Clone(requested)
	slices.SortStableFunc(queue, func(a, b *tile.Tile) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	started := 0
	for _, t := range queue {
		if t.ContentURI == "" || !(t.ContentUnloaded() || t.ContentExpired()) {
			continue
		}
		s.mu.Lock()
		_, busy := s.inflight[t.ID]
		if !busy {
			s.inflight[t.ID] = struct{}{}
		}
		s.mu.Unlock()
		if busy {
			continue
		}

		id, uri := t.ID, t.ContentURI
		if !s.g.TryGo(func() error {
			s.fetch(id, uri)
			return nil
		}) {
			s.mu.Lock()
			delete(s.inflight, id)
			s.mu.Unlock()
			break
		}
		if t.ContentUnloaded() {
			t.State = tile.StateLoading
		}
		started++
	}
	observability.SetContentInflight(s.Inflight())
	return started
}

func (s *Scheduler) fetch(id tile.ID, uri string) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := s.store.Get(ctx, uri)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
		s.log.Debug("content fetch failed", "uri", uri, "err", err)
	}
	observability.ObserveContentFetch(s.source, outcome, time.Since(start).Seconds())

	s.mu.Lock()
	delete(s.inflight, id)
	s.done = append(s.done, Result{ID: id, URI: uri, Payload: payload, Err: err})
	s.mu.Unlock()
}

// Drain returns the fetches finished since the last call without blocking.
func (s *Scheduler) Drain() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.done
	s.done = nil
	return out
}

func (s *Scheduler) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Close cancels running fetches and waits for the workers to exit.
func (s *Scheduler) Close() {
	s.cancel()
	_ = s.g.Wait()
	observability.SetContentInflight(0)
}
