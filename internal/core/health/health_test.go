package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type frames bool

func (f frames) Ready() bool { return bool(f) }

type consumer struct {
	ready bool
	parts []int32
}

func (c consumer) Readiness() (bool, []int32) { return c.ready, c.parts }

func TestReadiness_Handler(t *testing.T) {
	cases := []struct {
		name     string
		frames   FrameReporter
		consumer ReadinessReporter
		code     int
		body     string
	}{
		{"no frame yet", frames(false), nil, http.StatusServiceUnavailable, `{"status":"not_ready","frames":false}`},
		{"frames only", frames(true), nil, http.StatusOK, `{"status":"ready","frames":true}`},
		{"consumer unassigned", frames(true), consumer{}, http.StatusServiceUnavailable, `{"status":"not_ready","frames":true,"consumer":false}`},
		{"all ready", frames(true), consumer{ready: true, parts: []int32{0, 2}}, http.StatusOK, `{"status":"ready","frames":true,"consumer":true,"partitions":[0,2]}`},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		Readiness(tc.frames, tc.consumer)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != tc.code {
			t.Fatalf("%s: status=%d want %d", tc.name, rr.Code, tc.code)
		}
		if got := strings.TrimSpace(rr.Body.String()); got != tc.body {
			t.Fatalf("%s: body=%s want %s", tc.name, got, tc.body)
		}
	}
}
