package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LODCfg mirrors tileset.Options; zero values are replaced by the tileset defaults.
type LODCfg struct {
	MaxSSE             float64
	BaseSSE            float64
	SkipLOD            bool
	SkipLevels         int
	SkipSSEFactor      float64
	ImmediateLoad      bool
	LoadSiblings       bool
	CullChildrenBounds bool
	DynamicSSE         bool
	MaxCachedTiles     int
}

type RedisCfg struct {
	Addr         string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
}

type Config struct {
	Addr        string
	LogLevel    string
	LogConsole  bool
	TilesetName string
	TilesetPath string

	// ContentDir serves tile content from disk when neither Redis.Addr nor
	// ContentURL is set. It is also the source of a Redis seed.
	ContentDir     string
	ContentURL     string
	ContentTimeout time.Duration
	MaxConcurrent  int

	Redis RedisCfg

	FrameInterval time.Duration
	Frames        int
	ViewWidth     int
	ViewHeight    int

	LOD LODCfg
}

func FromEnv() Config {
	return Config{
		Addr:        getenv("ADDR", ":8090"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		TilesetName: getenv("TILESET_NAME", "default"),
		TilesetPath: getenv("TILESET_PATH", "tileset.json"),

		ContentDir:     getenv("CONTENT_DIR", ""),
		ContentURL:     getenv("CONTENT_URL", ""),
		ContentTimeout: getduration("CONTENT_TIMEOUT", 2*time.Second),
		MaxConcurrent:  getint("MAX_CONCURRENT_REQUESTS", 16),

		Redis: RedisCfg{
			Addr:         getenv("REDIS_ADDR", ""),
			PoolSize:     getint("REDIS_POOL_SIZE", 32),
			MinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getduration("REDIS_READ_TIMEOUT", time.Second),
		},

		FrameInterval: getduration("FRAME_INTERVAL", 16*time.Millisecond),
		Frames:        getint("FRAMES", 0),
		ViewWidth:     getint("VIEW_WIDTH", 1920),
		ViewHeight:    getint("VIEW_HEIGHT", 1080),

		LOD: LODCfg{
			MaxSSE:             getfloat("MAX_SSE", 16),
			BaseSSE:            getfloat("BASE_SSE", 1024),
			SkipLOD:            getbool("SKIP_LOD", false),
			SkipLevels:         getint("SKIP_LEVELS", 1),
			SkipSSEFactor:      getfloat("SKIP_SSE_FACTOR", 16),
			ImmediateLoad:      getbool("IMMEDIATE_LOAD", false),
			LoadSiblings:       getbool("LOAD_SIBLINGS", false),
			CullChildrenBounds: getbool("CULL_WITH_CHILDREN_BOUNDS", true),
			DynamicSSE:         getbool("DYNAMIC_SSE", false),
			MaxCachedTiles:     getint("MAX_CACHED_TILES", 512),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
