package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/zhangxrk/cesium/internal/content"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr(), "city")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestPutGetDelete(t *testing.T) {
	rc, _ := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Put(ctx, "tiles/0/0.b3dm", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// equivalent uris share a key
	got, err := rc.Get(ctx, "./tiles//0/0.b3dm")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := rc.Delete(ctx, "tiles/0/0.b3dm"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := rc.Get(ctx, "tiles/0/0.b3dm"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}

func TestMGetFiltersMissing(t *testing.T) {
	rc, _ := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := rc.PutMany(ctx, map[string][]byte{"a.b3dm": []byte("a"), "b.b3dm": []byte("b")}, 0)
	if err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	got, err := rc.MGet(ctx, []string{"a.b3dm", "b.b3dm", "missing.b3dm"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["a.b3dm"]) != "a" || string(got["b.b3dm"]) != "b" {
		t.Fatalf("unexpected values: %+v", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.Put(ctx, "ttl.b3dm", []byte("v"), 2*time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.FastForward(3 * time.Second)
	if _, err := rc.Get(ctx, "ttl.b3dm"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("want ErrNotFound after expiry, got %v", err)
	}
}

func TestKeysAreScopedByTileset(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	other, err := New(ctx, mr.Addr(), "suburb")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = other.Close() }()

	if err := rc.Put(ctx, "root.b3dm", []byte("city"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := other.Get(ctx, "root.b3dm"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("content leaked across tilesets: %v", err)
	}
	if !mr.Exists(rc.Key("root.b3dm")) {
		t.Fatalf("key %q not in redis", rc.Key("root.b3dm"))
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Put(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Put with canceled context")
	}
	if _, err := rc.Get(ctx, "k"); err == nil || errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected context error on Get, got %v", err)
	}
	if err := rc.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected error on Delete with canceled context")
	}
}
