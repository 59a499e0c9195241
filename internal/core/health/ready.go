package health

import (
	"encoding/json"
	"net/http"
)

// FrameReporter is ready once the render loop finished a frame.
type FrameReporter interface {
	Ready() bool
}

// ReadinessReporter is implemented by the expiration consumer.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Readiness reports ready when frames run and, if a consumer is given, it
// holds partitions.
func Readiness(frames FrameReporter, consumer ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status     string  `json:"status"`
			Frames     bool    `json:"frames"`
			Consumer   *bool   `json:"consumer,omitempty"`
			Partitions []int32 `json:"partitions,omitempty"`
		}
		out := resp{Status: "not_ready", Frames: frames.Ready()}
		ready := out.Frames
		if consumer != nil {
			ok, parts := consumer.Readiness()
			out.Consumer = &ok
			out.Partitions = parts
			ready = ready && ok
		}
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
