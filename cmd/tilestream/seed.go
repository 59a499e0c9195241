package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/zhangxrk/cesium/internal/content"
)

const (
	seedBatch = 128
	// payloads above this go out on their own instead of in the batch pipeline
	seedMaxPipelined = 4 << 20
)

// seedTarget is the part of redisstore.Client a seed writes through.
type seedTarget interface {
	MGet(ctx context.Context, uris []string) (map[string][]byte, error)
	Put(ctx context.Context, uri string, payload []byte, ttl time.Duration) error
	PutMany(ctx context.Context, payloads map[string][]byte, ttl time.Duration) error
}

type seedStats struct {
	Files   int
	Skipped int
	Written int
}

// seed copies every file under dir into dst, keyed by its slash separated
// path relative to dir. Content already present is left alone unless
// overwrite is set.
func seed(ctx context.Context, dst seedTarget, dir string, ttl time.Duration, overwrite bool, log *slog.Logger) (seedStats, error) {
	var st seedStats
	src, err := content.NewDirStore(dir)
	if err != nil {
		return st, err
	}

	var uris []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		uris = append(uris, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("walk %s: %w", dir, err)
	}
	st.Files = len(uris)

	for start := 0; start < len(uris); start += seedBatch {
		batch := uris[start:min(start+seedBatch, len(uris))]

		present := map[string][]byte{}
		if !overwrite {
			if present, err = dst.MGet(ctx, batch); err != nil {
				return st, err
			}
		}

		pending := make(map[string][]byte, len(batch))
		for _, uri := range batch {
			if _, ok := present[uri]; ok {
				st.Skipped++
				continue
			}
			b, err := src.Get(ctx, uri)
			if err != nil {
				return st, err
			}
			if len(b) > seedMaxPipelined {
				if err := dst.Put(ctx, uri, b, ttl); err != nil {
					return st, err
				}
				st.Written++
				continue
			}
			pending[uri] = b
		}
		if err := dst.PutMany(ctx, pending, ttl); err != nil {
			return st, err
		}
		st.Written += len(pending)
		log.Debug("seed batch", "files", len(batch), "written", len(pending))
	}
	return st, nil
}
