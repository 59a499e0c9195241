// Package observability records frame, content and HTTP metrics into the
// registry handed to Init. Every recorder is a no-op before Init.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type set struct {
	framesTotal     *prometheus.CounterVec
	frameDuration   prometheus.Histogram
	frameTiles      *prometheus.GaugeVec
	culledChildren  prometheus.Counter
	cacheEvictions  prometheus.Counter
	cacheResident   prometheus.Gauge
	contentFetch    *prometheus.HistogramVec
	contentInflight prometheus.Gauge
	expiredTiles    prometheus.Counter
	invalidation    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var current atomic.Pointer[set]

var tilesetLabel atomic.Value

func init() {
	tilesetLabel.Store("default")
}

// SetTileset names the tileset every frame metric is labelled with.
func SetTileset(s string) {
	if s == "" {
		s = "default"
	}
	tilesetLabel.Store(s)
}

func getTileset() string {
	if s, ok := tilesetLabel.Load().(string); ok && s != "" {
		return s
	}
	return "default"
}

// Init registers the collectors with reg, or the default registry when reg is nil.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	current.Store(&set{
		framesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tileset_frames_total",
			Help: "Frames processed, by traversal strategy.",
		}, []string{"tileset", "strategy"}),
		frameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tileset_frame_duration_seconds",
			Help:    "Time spent selecting, scheduling and trimming one frame.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~0.8s
		}),
		frameTiles: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tileset_frame_tiles",
			Help: "Tiles per outcome in the last frame.",
		}, []string{"tileset", "outcome"}),
		culledChildren: f.NewCounter(prometheus.CounterOpts{
			Name: "tileset_culled_with_children_union_total",
			Help: "Replace tiles culled because none of their children was visible.",
		}),
		cacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "tileset_cache_evictions_total",
			Help: "Tiles whose content was unloaded to respect the cache size.",
		}),
		cacheResident: f.NewGauge(prometheus.GaugeOpts{
			Name: "tileset_cache_resident_tiles",
			Help: "Tiles with resident content after the last trim.",
		}),
		contentFetch: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "content_fetch_duration_seconds",
			Help:    "Latency of tile content fetches.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"source", "outcome"}),
		contentInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "content_requests_inflight",
			Help: "Tile content fetches currently running.",
		}),
		expiredTiles: f.NewCounter(prometheus.CounterOpts{
			Name: "tileset_expired_tiles_total",
			Help: "Tiles marked expired by invalidation events.",
		}),
		invalidation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invalidation_messages_total",
			Help: "Expiration messages consumed, by outcome.",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"method", "route", "status"}),
	})
}

// FrameSample is what one frame reports.
type FrameSample struct {
	Strategy        string
	Visited         int
	Desired         int
	Selected        int
	Requested       int
	Scheduled       int
	CulledByBounds  int
	Evicted         int
	Resident        int
	DurationSeconds float64
}

func ObserveFrame(s FrameSample) {
	m := current.Load()
	if m == nil {
		return
	}
	ts := getTileset()
	m.framesTotal.WithLabelValues(ts, s.Strategy).Inc()
	m.frameDuration.Observe(s.DurationSeconds)
	m.frameTiles.WithLabelValues(ts, "visited").Set(float64(s.Visited))
	m.frameTiles.WithLabelValues(ts, "desired").Set(float64(s.Desired))
	m.frameTiles.WithLabelValues(ts, "selected").Set(float64(s.Selected))
	m.frameTiles.WithLabelValues(ts, "requested").Set(float64(s.Requested))
	m.frameTiles.WithLabelValues(ts, "scheduled").Set(float64(s.Scheduled))
	m.culledChildren.Add(float64(s.CulledByBounds))
	m.cacheEvictions.Add(float64(s.Evicted))
	m.cacheResident.Set(float64(s.Resident))
}

// ObserveContentFetch records one fetch; outcome is ok, not_found or error.
func ObserveContentFetch(source, outcome string, durationSeconds float64) {
	if m := current.Load(); m != nil {
		m.contentFetch.WithLabelValues(source, outcome).Observe(durationSeconds)
	}
}

func SetContentInflight(n int) {
	if m := current.Load(); m != nil {
		m.contentInflight.Set(float64(n))
	}
}

func AddExpiredTiles(n int) {
	if m := current.Load(); m != nil && n > 0 {
		m.expiredTiles.Add(float64(n))
	}
}

func IncInvalidation(outcome string) {
	if m := current.Load(); m != nil {
		m.invalidation.WithLabelValues(outcome).Inc()
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	m := current.Load()
	if m == nil {
		return
	}
	st := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, st).Inc()
	m.httpDuration.WithLabelValues(method, route, st).Observe(durationSeconds)
}
