package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/zhangxrk/cesium/internal/cache/redisstore"
	"github.com/zhangxrk/cesium/internal/content"
	"github.com/zhangxrk/cesium/internal/core/config"
	"github.com/zhangxrk/cesium/internal/core/httpclient"
	"github.com/zhangxrk/cesium/internal/core/observability"
	"github.com/zhangxrk/cesium/internal/core/server"
	"github.com/zhangxrk/cesium/internal/engine"
	"github.com/zhangxrk/cesium/internal/logger"
	"github.com/zhangxrk/cesium/internal/metrics"
	"github.com/zhangxrk/cesium/internal/tile/tilesetjson"
	"github.com/zhangxrk/cesium/internal/tileset"
	"github.com/zhangxrk/cesium/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()
	flag.StringVar(&cfg.TilesetPath, "tileset", cfg.TilesetPath, "path of the root tileset.json")
	flag.StringVar(&cfg.ContentDir, "content-dir", cfg.ContentDir, "directory holding tile content (defaults to the tileset's directory)")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "debug http listen address")
	flag.IntVar(&cfg.Frames, "frames", cfg.Frames, "stop after this many frames (0 runs until interrupted)")
	flag.BoolVar(&cfg.LOD.SkipLOD, "skip-lod", cfg.LOD.SkipLOD, "skip levels of detail")
	seedOnly := flag.Bool("seed", false, "copy the content dir into Redis and exit")
	seedTTL := flag.Duration("seed-ttl", 0, "expiry of seeded content (0 keeps it)")
	seedOverwrite := flag.Bool("seed-overwrite", false, "rewrite content already in Redis")
	flag.Parse()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Tileset:   cfg.TilesetName,
		Component: "tilestream",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer())
	observability.SetTileset(cfg.TilesetName)

	appLog.Info("starting tilestream",
		"addr", cfg.Addr,
		"version", Version,
		"tileset", cfg.TilesetPath,
		"skip_lod", cfg.LOD.SkipLOD)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *seedOnly {
		return runSeed(ctx, cfg, *seedTTL, *seedOverwrite, appLog)
	}

	ts, err := loadTileset(cfg, appLog)
	if err != nil {
		appLog.Error("tileset load failed", "err", err)
		return 1
	}

	store, source, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		appLog.Error("content store setup failed", "err", err)
		return 1
	}
	defer closeStore()

	sched := content.NewScheduler(store, source, cfg.MaxConcurrent, cfg.ContentTimeout, appLog)
	defer sched.Close()
	eng := engine.New(ts, sched, appLog)

	deps := server.Deps{Engine: eng, Metrics: p.Handler()}

	invCfg := kafka.FromEnv()
	if invCfg.Enabled && invCfg.Driver == kafka.DriverKafka {
		opts := kafka.Options{Logger: appLog, Register: p.Registerer(), Tileset: cfg.TilesetName}
		if rs, ok := store.(*redisstore.Client); ok {
			opts.Deleter = rs
		}
		runner := kafka.New(invCfg, eng, opts)
		if err := runner.Start(ctx); err != nil {
			appLog.Error("expiration runner failed to start", "err", err)
			return 1
		}
		defer runner.Stop()
		deps.Consumer = runner
	}

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.Run(ctx, cfg.Addr, appLog, server.NewRouter(appLog, deps))
	}()

	renderLoop(ctx, cfg, ts, eng, appLog)
	stop()

	if err := <-srvErr; err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("tilestream stopped")
	return 0
}

func loadTileset(cfg config.Config, log *slog.Logger) (*tileset.Tileset, error) {
	f, err := os.Open(cfg.TilesetPath)
	if err != nil {
		return nil, fmt.Errorf("open tileset: %w", err)
	}
	defer f.Close()

	doc, err := tilesetjson.Decode(f)
	if err != nil {
		return nil, err
	}
	return tileset.New(doc.Tree, doc.GeometricError, lodOptions(cfg.LOD), log)
}

// lodOptions copies the configured values over the tileset defaults as they
// are; config.FromEnv already fell back to defaults for unset variables, and
// tileset.New rejects invalid ones.
func lodOptions(c config.LODCfg) tileset.Options {
	o := tileset.DefaultOptions()
	o.MaximumScreenSpaceError = c.MaxSSE
	o.BaseScreenSpaceError = c.BaseSSE
	o.SkipLevelOfDetail = c.SkipLOD
	o.SkipLevels = c.SkipLevels
	o.SkipScreenSpaceErrorFactor = c.SkipSSEFactor
	o.ImmediatelyLoadDesiredLevelOfDetail = c.ImmediateLoad
	o.LoadSiblings = c.LoadSiblings
	o.CullWithChildrenBounds = c.CullChildrenBounds
	o.DynamicScreenSpaceError = c.DynamicSSE
	o.MaximumCachedTiles = c.MaxCachedTiles
	return o
}

// openStore picks Redis, then a remote base URL, then the directory next to
// the tileset.
func openStore(ctx context.Context, cfg config.Config) (content.Store, string, func(), error) {
	if cfg.Redis.Addr != "" {
		rs, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.TilesetName, redisOptions(cfg.Redis)...)
		if err != nil {
			return nil, "", nil, err
		}
		return rs, "redis", func() { _ = rs.Close() }, nil
	}
	if cfg.ContentURL != "" {
		hs, err := content.NewHTTPStore(httpclient.NewOutbound(cfg.ContentTimeout), cfg.ContentURL)
		if err != nil {
			return nil, "", nil, err
		}
		return hs, "http", func() {}, nil
	}

	ds, err := content.NewDirStore(contentDir(cfg))
	if err != nil {
		return nil, "", nil, err
	}
	return ds, "dir", func() {}, nil
}

func contentDir(cfg config.Config) string {
	if cfg.ContentDir != "" {
		return cfg.ContentDir
	}
	return filepath.Dir(cfg.TilesetPath)
}

func redisOptions(c config.RedisCfg) []redisstore.Option {
	var opts []redisstore.Option
	if c.PoolSize > 0 {
		opts = append(opts, redisstore.WithPoolSize(c.PoolSize))
	}
	if c.MinIdleConns >= 0 {
		opts = append(opts, redisstore.WithMinIdleConns(c.MinIdleConns))
	}
	if c.DialTimeout > 0 {
		opts = append(opts, redisstore.WithDialTimeout(c.DialTimeout))
	}
	if c.ReadTimeout > 0 {
		opts = append(opts, redisstore.WithReadTimeout(c.ReadTimeout))
	}
	return opts
}

func runSeed(ctx context.Context, cfg config.Config, ttl time.Duration, overwrite bool, log *slog.Logger) int {
	if cfg.Redis.Addr == "" {
		log.Error("seeding needs REDIS_ADDR")
		return 2
	}
	rs, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.TilesetName, redisOptions(cfg.Redis)...)
	if err != nil {
		log.Error("redis connect failed", "err", err)
		return 1
	}
	defer func() { _ = rs.Close() }()

	dir := contentDir(cfg)
	start := time.Now()
	st, err := seed(ctx, rs, dir, ttl, overwrite, log)
	if err != nil {
		log.Error("seed failed", "dir", dir, "err", err)
		return 1
	}
	log.Info("seed done",
		"dir", dir,
		"files", st.Files,
		"written", st.Written,
		"skipped", st.Skipped,
		"duration", time.Since(start).String())
	return 0
}

// renderLoop drives one frame per tick along a flythrough of the root volume.
func renderLoop(ctx context.Context, cfg config.Config, ts *tileset.Tileset, eng *engine.Engine, log *slog.Logger) {
	root := ts.Root()
	fly := newFlythrough(root.BoundingVolume.Transform(ts.Options().ModelMatrix.Mul4(root.Transform)), 600)
	fr := fly.frustum(cfg.ViewWidth, cfg.ViewHeight)

	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for n := uint64(1); cfg.Frames <= 0 || n <= uint64(cfg.Frames); n++ {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			fs, err := tileset.NewFrameState(n, now, tileset.Scene3D, fly.camera(n), fr, cfg.ViewWidth, cfg.ViewHeight)
			if err != nil {
				log.Error("invalid frame state", "err", err)
				return
			}
			sum := eng.Frame(ctx, fs)
			if n%100 == 0 {
				log.Info("frame",
					"frame", sum.Frame,
					"selected", len(sum.Selected),
					"requested", sum.Requested,
					"resident", sum.Resident,
					"fully_refined", sum.FullyRefined)
			}
		}
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		log.Info("frame budget reached", "frames", cfg.Frames)
	}
}
