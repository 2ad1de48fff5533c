package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/logging"
)

// fakeAPI implements ChannelAPI for handler tests.
type fakeAPI struct {
	mu        sync.Mutex
	healthy   bool
	requested []string
	trackErr  error
	resets    int
	lastLimit int
}

func (f *fakeAPI) Healthy() bool { return f.healthy }

func (f *fakeAPI) StatusDocument() any {
	return map[string]any{"state": "running", "track": "sunrise"}
}

func (f *fakeAPI) RecoveryStats() any {
	return map[string]any{"restart_count": 1, "escalated": false}
}

func (f *fakeAPI) RecoveryHistory(limit int) any {
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	return []map[string]string{{"action": "restart"}}
}

func (f *fakeAPI) RequestTrack(trackKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return f.trackErr
	}
	f.requested = append(f.requested, trackKey)
	return nil
}

func (f *fakeAPI) ResetRecovery() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func newTestServer(t *testing.T, api ChannelAPI) (*httptest.Server, *Collector) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(CollectorConfig{Version: "test"}, reg)
	srv := httptest.NewServer(NewHandler(reg, api, logging.Discard()))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name     string
		api      ChannelAPI
		wantCode int
	}{
		{"no api", nil, http.StatusOK},
		{"healthy", &fakeAPI{healthy: true}, http.StatusOK},
		{"degraded", &fakeAPI{healthy: false}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.api)
			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Errorf("GET /health = %d, want %d", resp.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, c := newTestServer(t, nil)
	c.SessionStarted()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	snap, err := ParseExposition(resp.Body)
	if err != nil {
		t.Fatalf("ParseExposition() error = %v", err)
	}
	if v, ok := snap.Value("loop_channel_sessions_started_total"); !ok || v != 1 {
		t.Errorf("sessions_started_total = %v (%v), want 1", v, ok)
	}
}

func TestServer_JSONEndpoints(t *testing.T) {
	api := &fakeAPI{healthy: true}
	srv, _ := newTestServer(t, api)

	tests := []struct {
		path    string
		wantKey string
	}{
		{"/status", "state"},
		{"/recovery", "restart_count"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var doc map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, ok := doc[tt.wantKey]; !ok {
				t.Errorf("%s missing %q: %v", tt.path, tt.wantKey, doc)
			}
		})
	}
}

func TestServer_History(t *testing.T) {
	api := &fakeAPI{}
	srv, _ := newTestServer(t, api)

	resp, err := http.Get(srv.URL + "/recovery/history?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || api.lastLimit != 5 {
		t.Errorf("history: code=%d limit=%d", resp.StatusCode, api.lastLimit)
	}

	resp, err = http.Get(srv.URL + "/recovery/history?limit=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", resp.StatusCode)
	}
}

func TestServer_Track(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		query    string
		body     string
		trackErr error
		wantCode int
		wantReq  string
	}{
		{name: "json body", method: http.MethodPost, body: `{"track":"sunrise"}`, wantCode: http.StatusAccepted, wantReq: "sunrise"},
		{name: "query param", method: http.MethodPost, query: "?track=sunset", wantCode: http.StatusAccepted, wantReq: "sunset"},
		{name: "missing track", method: http.MethodPost, body: `{}`, wantCode: http.StatusBadRequest},
		{name: "invalid json", method: http.MethodPost, body: `{`, wantCode: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, query: "?track=x", wantCode: http.StatusMethodNotAllowed},
		{name: "unknown track", method: http.MethodPost, query: "?track=nope", trackErr: fmt.Errorf("resolve: %w", ErrUnknownTrack), wantCode: http.StatusNotFound},
		{name: "busy", method: http.MethodPost, query: "?track=x", trackErr: ErrTransitionBusy, wantCode: http.StatusConflict},
		{name: "other error", method: http.MethodPost, query: "?track=x", trackErr: fmt.Errorf("boom"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{trackErr: tt.trackErr}
			srv, _ := newTestServer(t, api)

			req, err := http.NewRequest(tt.method, srv.URL+"/track"+tt.query, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantReq != "" && (len(api.requested) != 1 || api.requested[0] != tt.wantReq) {
				t.Errorf("requested = %v, want [%s]", api.requested, tt.wantReq)
			}
		})
	}
}

func TestServer_RecoveryReset(t *testing.T) {
	api := &fakeAPI{}
	srv, _ := newTestServer(t, api)

	resp, err := http.Post(srv.URL+"/recovery/reset", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || api.resets != 1 {
		t.Errorf("reset: code=%d resets=%d", resp.StatusCode, api.resets)
	}

	resp, err = http.Get(srv.URL + "/recovery/reset")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /recovery/reset = %d, want 405", resp.StatusCode)
	}
}

func TestServer_APIRoutesAbsentWithoutAPI(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /status without api = %d, want 404", resp.StatusCode)
	}
}
