// Package server exposes the debug HTTP surface of the render loop.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhangxrk/cesium/internal/core/health"
	middleware "github.com/zhangxrk/cesium/internal/core/middleware"
	"github.com/zhangxrk/cesium/internal/engine"
)

// Engine is the part of engine.Engine served over HTTP.
type Engine interface {
	LastFrame() engine.FrameSummary
	Ready() bool
	Expire(uris ...string)
}

type Deps struct {
	Engine Engine
	// Consumer is optional.
	Consumer health.ReadinessReporter
	Metrics  http.Handler
}

func NewRouter(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Engine, d.Consumer))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Get("/frame", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Engine.LastFrame())
	})
	r.Post("/expire", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			URIs []string `json:"uris"`
		}
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20))
		if err := dec.Decode(&body); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(body.URIs) == 0 {
			http.Error(w, "uris is required", http.StatusBadRequest)
			return
		}
		d.Engine.Expire(body.URIs...)
		logger.InfoContext(req.Context(), "expiration requested", "uris", len(body.URIs))
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(body.URIs)})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves handler on addr until ctx is done.
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
