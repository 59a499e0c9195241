// Package kafka consumes tile expiration events from a Kafka topic and hands
// the affected content uris to the frame engine.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhangxrk/cesium/internal/cache/keys"
	"github.com/zhangxrk/cesium/internal/core/observability"
	"github.com/zhangxrk/cesium/internal/invalidation"
	"github.com/zhangxrk/cesium/internal/logger"
)

// errInvalid marks messages that can never be applied. They are counted and
// committed so a bad payload does not stall the partition.
var errInvalid = errors.New("invalid expiration message")

type Runner struct {
	log      *slog.Logger
	cfg      InvalidationConfig
	tileset  string
	exp      Expirer
	del      ContentDeleter
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// Tileset filters events; empty accepts every tileset.
	Tileset string
	// Deleter, when set, drops stored payloads named by delete events.
	Deleter ContentDeleter
}

func New(cfg InvalidationConfig, exp Expirer, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:     opts.Logger,
		cfg:     cfg,
		tileset: opts.Tileset,
		exp:     exp,
		del:     opts.Deleter,
		ms:      newMetricSet(opts.Register),
		ver:     newVersionDedupe(8192),
		assign:  map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		r.log.Info("expiration runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.exp == nil {
		return errors.New("kafka runner: expirer dependency is required")
	}

	cfg, err := saramaConfig(r.cfg)
	if err != nil {
		return err
	}
	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
		log:     r.log,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka expiration runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka expiration runner stopped")
}

// Readiness reports whether the group has assigned partitions to this member.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.reject()
		return fmt.Errorf("%w: decode: %v", errInvalid, err)
	}
	if err := ev.Validate(); err != nil {
		r.reject()
		return fmt.Errorf("%w: %v", errInvalid, err)
	}

	err := r.apply(ctx, ev)
	r.observe(ev.Op, err, time.Since(start))
	return err
}

func (r *Runner) reject() {
	r.ms.msgs.WithLabelValues("invalid").Inc()
	observability.IncInvalidation("invalid")
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.ms.msgs.WithLabelValues(outcome).Inc()
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
	observability.IncInvalidation(outcome)
}

// apply expires the uris of ev whose version is newer than any seen before.
// Delete events also drop the stored payload when a deleter is configured.
func (r *Runner) apply(ctx context.Context, ev invalidation.Event) error {
	if r.tileset != "" && ev.Tileset != r.tileset {
		r.ms.apply.WithLabelValues("skip_tileset").Add(float64(len(ev.URIs)))
		return nil
	}

	fresh := make([]string, 0, len(ev.URIs))
	for _, u := range ev.URIs {
		norm := keys.NormalizeURI(u)
		if !r.ver.fresh(versionKey(ev.Tileset, norm), ev.Version) {
			r.ms.apply.WithLabelValues("skip_version").Inc()
			continue
		}
		fresh = append(fresh, norm)
	}
	if len(fresh) == 0 {
		return nil
	}

	// versions are recorded only once applied so a redelivery can retry
	if ev.Op == invalidation.OpDelete && r.del != nil {
		if err := r.del.Delete(ctx, fresh...); err != nil {
			return fmt.Errorf("delete %d payloads: %w", len(fresh), err)
		}
		r.ms.apply.WithLabelValues("delete").Add(float64(len(fresh)))
	}
	r.exp.Expire(fresh...)
	for _, u := range fresh {
		r.ver.record(versionKey(ev.Tileset, u), ev.Version)
	}
	r.ms.apply.WithLabelValues("expire").Add(float64(len(fresh)))

	ctx = logger.WithTileset(logger.WithComponent(ctx, "expiration"), ev.Tileset)
	r.log.DebugContext(ctx, "tile content expired",
		"op", ev.Op, "version", ev.Version, "uris", len(fresh))
	return nil
}

func versionKey(tileset, uri string) string { return tileset + "\x00" + uri }

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
	log     *slog.Logger
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			if !errors.Is(err, errInvalid) {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			h.log.Warn("skipping expiration message",
				"partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
