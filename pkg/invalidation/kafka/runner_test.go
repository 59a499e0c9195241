package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zhangxrk/cesium/internal/cache/redisstore"
	"github.com/zhangxrk/cesium/internal/invalidation"
)

type fakeExpirer struct {
	mu   sync.Mutex
	uris []string
}

func (f *fakeExpirer) Expire(uris ...string) {
	f.mu.Lock()
	f.uris = append(f.uris, uris...)
	f.mu.Unlock()
}

func (f *fakeExpirer) Got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uris...)
}

type failingDeleter struct{}

func (failingDeleter) Delete(context.Context, ...string) error { return errors.New("redis down") }

func message(t *testing.T, ev invalidation.Event) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Timestamp: ev.TS, Value: b}
}

func event(version uint64, op string, uris ...string) invalidation.Event {
	return invalidation.Event{
		Version: version, Op: op, Tileset: "city",
		URIs: uris, TS: time.Now().Add(-time.Second).UTC(),
	}
}

func TestHandleMessage_ExpiresAndDedupesVersions(t *testing.T) {
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka}
	exp := &fakeExpirer{}
	reg := prometheus.NewRegistry()
	r := New(cfg, exp, Options{Register: reg, Tileset: "city"})
	ctx := context.Background()

	if err := r.handleMessage(ctx, message(t, event(2, invalidation.OpUpdate, "./a//b.b3dm", "c.b3dm"))); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	// same version again, and an older one: both skipped
	if err := r.handleMessage(ctx, message(t, event(2, invalidation.OpUpdate, "a/b.b3dm"))); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if err := r.handleMessage(ctx, message(t, event(1, invalidation.OpUpdate, "c.b3dm"))); err != nil {
		t.Fatalf("stale: %v", err)
	}
	if err := r.handleMessage(ctx, message(t, event(3, invalidation.OpUpdate, "c.b3dm"))); err != nil {
		t.Fatalf("newer: %v", err)
	}

	if diff := cmp.Diff([]string{"a/b.b3dm", "c.b3dm", "c.b3dm"}, exp.Got()); diff != "" {
		t.Fatalf("expired uris mismatch (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(r.ms.apply.WithLabelValues("skip_version")); got != 2 {
		t.Fatalf("skip_version = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.ms.msgs.WithLabelValues("ok")); got != 4 {
		t.Fatalf("ok messages = %v, want 4", got)
	}
}

func TestHandleMessage_IgnoresOtherTilesets(t *testing.T) {
	exp := &fakeExpirer{}
	r := New(InvalidationConfig{}, exp, Options{Tileset: "harbour"})
	if err := r.handleMessage(context.Background(), message(t, event(1, invalidation.OpUpdate, "a.b3dm"))); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if len(exp.Got()) != 0 {
		t.Fatalf("expired %v for a foreign tileset", exp.Got())
	}
}

func TestHandleMessage_RejectsInvalidPayloads(t *testing.T) {
	r := New(InvalidationConfig{}, &fakeExpirer{}, Options{})
	ctx := context.Background()

	if err := r.handleMessage(ctx, &sarama.ConsumerMessage{Value: []byte("{")}); !errors.Is(err, errInvalid) {
		t.Fatalf("undecodable: %v", err)
	}
	if err := r.handleMessage(ctx, message(t, event(1, "insert", "a.b3dm"))); !errors.Is(err, errInvalid) {
		t.Fatalf("unknown op: %v", err)
	}
	if got := testutil.ToFloat64(r.ms.msgs.WithLabelValues("invalid")); got != 2 {
		t.Fatalf("invalid = %v, want 2", got)
	}
}

func TestDeleteEvent_DropsStoredPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	store, err := redisstore.New(ctx, mr.Addr(), "city")
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.Put(ctx, "a/b.b3dm", []byte("payload"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exp := &fakeExpirer{}
	r := New(InvalidationConfig{}, exp, Options{Tileset: "city", Deleter: store})
	if err := r.handleMessage(ctx, message(t, event(1, invalidation.OpDelete, "./a/b.b3dm"))); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if mr.Exists(store.Key("a/b.b3dm")) {
		t.Fatalf("payload still stored after delete event")
	}
	if diff := cmp.Diff([]string{"a/b.b3dm"}, exp.Got()); diff != "" {
		t.Fatalf("expired uris mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteEvent_StoreFailureIsRetried(t *testing.T) {
	exp := &fakeExpirer{}
	r := New(InvalidationConfig{}, exp, Options{Deleter: failingDeleter{}})
	err := r.handleMessage(context.Background(), message(t, event(1, invalidation.OpDelete, "a.b3dm")))
	if err == nil || errors.Is(err, errInvalid) {
		t.Fatalf("want a retryable error, got %v", err)
	}
	if len(exp.Got()) != 0 {
		t.Fatalf("expired before the payload was deleted")
	}
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func TestConsumeClaim_SkipsInvalidAndStopsOnFailure(t *testing.T) {
	r := New(InvalidationConfig{}, &fakeExpirer{}, Options{Deleter: failingDeleter{}})
	h := &groupHandler{process: r.handleMessage, log: r.log}

	bad := &sarama.ConsumerMessage{Offset: 1, Value: []byte("not json")}
	good := message(t, event(1, invalidation.OpUpdate, "a.b3dm"))
	good.Offset = 2
	failing := message(t, event(1, invalidation.OpDelete, "b.b3dm"))
	failing.Offset = 3

	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- bad
	ch <- good
	ch <- failing
	close(ch)

	sess := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(sess, &fakeClaim{ch: ch}); err == nil {
		t.Fatalf("expected the failing delete to end the claim")
	}
	if diff := cmp.Diff([]int64{1, 2}, sess.marked); diff != "" {
		t.Fatalf("marked offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	r := New(InvalidationConfig{Driver: DriverNone}, &fakeExpirer{}, Options{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ready, _ := r.Readiness(); ready {
		t.Fatalf("disabled runner reports ready")
	}
	r.Stop()
}

func TestSaramaConfig(t *testing.T) {
	cfg, err := saramaConfig(InvalidationConfig{InitialOldest: true, Heartbeat: time.Second})
	if err != nil {
		t.Fatalf("saramaConfig: %v", err)
	}
	if cfg.Consumer.Offsets.Initial != sarama.OffsetOldest || cfg.Consumer.Group.Heartbeat.Interval != time.Second {
		t.Fatalf("consumer config not applied")
	}

	cfg, err = saramaConfig(InvalidationConfig{SASL: SASLConfig{Enable: true, Username: "u", Password: "p"}})
	if err != nil {
		t.Fatalf("sasl plain: %v", err)
	}
	if !cfg.Net.SASL.Enable || cfg.Net.SASL.Mechanism != sarama.SASLTypePlaintext {
		t.Fatalf("sasl not applied")
	}

	if _, err := saramaConfig(InvalidationConfig{SASL: SASLConfig{Enable: true, Mechanism: "SCRAM-SHA-512", Username: "u"}}); err == nil {
		t.Fatalf("unsupported mechanism accepted")
	}
	if _, err := saramaConfig(InvalidationConfig{TLS: TLSConfig{Enable: true, CaFile: "/does/not/exist.pem"}}); err == nil {
		t.Fatalf("missing ca file accepted")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("INVALIDATION_ENABLED", "true")
	t.Setenv("INVALIDATION_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092")
	t.Setenv("KAFKA_TOPIC", "")
	t.Setenv("KAFKA_SASL_USERNAME", "")
	t.Setenv("KAFKA_INITIAL_OFFSET", "newest")

	c := FromEnv()
	if !c.Enabled || c.Driver != DriverKafka || c.Topic != "tile-expiration" || c.InitialOldest || c.SASL.Enable {
		t.Fatalf("config %+v", c)
	}
	if diff := cmp.Diff([]string{"k1:9092", "k2:9092"}, c.Brokers); diff != "" {
		t.Fatalf("brokers mismatch (-want +got):\n%s", diff)
	}
}

func TestVersionDedupe(t *testing.T) {
	d := newVersionDedupe(2)
	if !d.fresh("a", 1) {
		t.Fatalf("unknown key must be fresh")
	}
	// checking alone does not consume the version
	if !d.fresh("a", 1) {
		t.Fatalf("version consumed before record")
	}
	d.record("a", 5)
	d.record("a", 3)
	if d.fresh("a", 5) || !d.fresh("a", 6) {
		t.Fatalf("record must keep the newest version")
	}
	// evicted keys start over
	d.record("b", 1)
	d.record("c", 1)
	if !d.fresh("a", 1) {
		t.Fatalf("evicted key still tracked")
	}
}
