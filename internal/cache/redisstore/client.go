// Package redisstore keeps tile content in Redis under keys derived from the
// tileset name and the content uri.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/zhangxrk/cesium/internal/cache/keys"
	"github.com/zhangxrk/cesium/internal/content"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

// Client stores the content of one tileset.
type Client struct {
	rdb     *redis.Client
	tileset string
}

func New(ctx context.Context, addr, tileset string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if tileset == "" {
		tileset = "default"
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, tileset: tileset}, nil
}

// Key is the Redis key holding the content of uri.
func (c *Client) Key(uri string) string {
	return keys.Key(c.tileset, uri)
}

// Get implements content.Store.
func (c *Client) Get(ctx context.Context, uri string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, c.Key(uri)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", uri, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", uri, err)
	}
	return b, nil
}

// MGet returns the payloads of the uris that have content, keyed by uri.
func (c *Client) MGet(ctx context.Context, uris []string) (map[string][]byte, error) {
	if len(uris) == 0 {
		return map[string][]byte{}, nil
	}
	ks := make([]string, len(uris))
	for i, u := range uris {
		ks[i] = c.Key(u)
	}

	vals, err := c.rdb.MGet(ctx, ks...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(ks), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
			// missing key
		case string:
			out[uris[i]] = []byte(t)
		case []byte:
			out[uris[i]] = t
		default:
			out[uris[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

// Put stores the payload of uri. A zero ttl keeps it until deleted.
func (c *Client) Put(ctx context.Context, uri string, payload []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.Key(uri), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", uri, err)
	}
	return nil
}

// PutMany stores several payloads in one pipeline.
func (c *Client) PutMany(ctx context.Context, payloads map[string][]byte, ttl time.Duration) error {
	if len(payloads) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for uri, v := range payloads {
			if err := p.Set(ctx, c.Key(uri), v, ttl).Err(); err != nil {
				return fmt.Errorf("redis pipeline SET %s: %w", uri, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis SET %d keys (pipeline): %w", len(payloads), err)
	}
	return nil
}

// Delete removes the content of the given uris.
func (c *Client) Delete(ctx context.Context, uris ...string) error {
	if len(uris) == 0 {
		return nil
	}
	ks := make([]string, len(uris))
	for i, u := range uris {
		ks[i] = c.Key(u)
	}
	if err := c.rdb.Del(ctx, ks...).Err(); err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(ks), err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
