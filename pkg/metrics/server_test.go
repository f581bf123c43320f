// Metrics HTTP endpoint tests
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticGatherer string

func (g staticGatherer) Gather() string { return string(g) }

func do(s *Server, method, path string, mutate func(*http.Request)) (*http.Response, string) {
	req := httptest.NewRequest(method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestServerOptionsDefaults(t *testing.T) {
	s := NewServer(staticGatherer(""), ServerOptions{})
	if s.Address() != ":9100" {
		t.Errorf("expected :9100, got %s", s.Address())
	}
	if s.opts.ReadTimeout != 10*time.Second || s.opts.WriteTimeout != 10*time.Second {
		t.Errorf("unexpected timeouts %+v", s.opts)
	}
	if s.Serving() || s.Uptime() != 0 {
		t.Error("server must be idle before Run")
	}
}

func TestServerRoutes(t *testing.T) {
	s := NewServer(staticGatherer("plotter_acks_total 3\n"), ServerOptions{})

	tests := []struct {
		method, path string
		code         int
		contains     string
	}{
		{http.MethodGet, "/metrics", http.StatusOK, "plotter_acks_total 3"},
		{http.MethodHead, "/metrics", http.StatusOK, ""},
		{http.MethodPost, "/metrics", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/health", http.StatusOK, "OK"},
		{http.MethodGet, "/", http.StatusOK, "/metrics"},
		{http.MethodGet, "/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		resp, body := do(s, tt.method, tt.path, nil)
		if resp.StatusCode != tt.code {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.code, resp.StatusCode)
		}
		if !strings.Contains(body, tt.contains) {
			t.Errorf("%s %s: body %q lacks %q", tt.method, tt.path, body, tt.contains)
		}
	}
}

func TestMetricsEndpointHeaders(t *testing.T) {
	s := NewServer(staticGatherer("abc\n"), ServerOptions{})

	resp, body := do(s, http.MethodHead, "/metrics", nil)
	if body != "" {
		t.Errorf("HEAD returned a body %q", body)
	}
	if resp.Header.Get("Content-Length") != "4" {
		t.Errorf("expected Content-Length 4, got %q", resp.Header.Get("Content-Length"))
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain; version=0.0.4") {
		t.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
}

func TestPlotterMetricsExposed(t *testing.T) {
	pm := NewPlotterMetrics()
	pm.SetAxis("x", 100, 120, 100)
	pm.RecordDispatch("move", time.Millisecond)
	s := NewServer(pm, ServerOptions{})

	_, body := do(s, http.MethodGet, "/metrics", nil)
	for _, want := range []string{
		`plotter_axis_position{axis="x"} 100`,
		`plotter_instructions_total{kind="move"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s in:\n%s", want, body)
		}
	}
}

func TestReadiness(t *testing.T) {
	s := NewServer(staticGatherer(""), ServerOptions{})

	for _, step := range []struct {
		ready bool
		code  int
	}{
		{false, http.StatusServiceUnavailable},
		{true, http.StatusOK},
		{false, http.StatusServiceUnavailable},
	} {
		s.SetReady(step.ready)
		if resp, _ := do(s, http.MethodGet, "/ready", nil); resp.StatusCode != step.code {
			t.Errorf("ready=%v: expected %d, got %d", step.ready, step.code, resp.StatusCode)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	s := NewServer(staticGatherer("x 1\n"), ServerOptions{Username: "admin", Password: "secret"})

	resp, _ := do(s, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("expected a WWW-Authenticate challenge")
	}

	resp, _ = do(s, http.MethodGet, "/metrics", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with a bad password, got %d", resp.StatusCode)
	}

	resp, body := do(s, http.MethodGet, "/metrics", func(r *http.Request) { r.SetBasicAuth("admin", "secret") })
	if resp.StatusCode != http.StatusOK || body != "x 1\n" {
		t.Errorf("expected the metrics with valid credentials, got %d %q", resp.StatusCode, body)
	}

	if resp, _ := do(s, http.MethodGet, "/health", nil); resp.StatusCode != http.StatusOK {
		t.Error("health must not require credentials")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(staticGatherer("up 1\n"), ServerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/metrics"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !s.Serving() || s.Uptime() <= 0 {
		t.Error("expected the server to be serving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if s.Serving() {
		t.Error("server still marked serving")
	}
}

func TestRunListenError(t *testing.T) {
	s := NewServer(staticGatherer(""), ServerOptions{Address: "256.0.0.1:bad"})
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected a listen error")
	}
}

func BenchmarkMetricsEndpoint(b *testing.B) {
	pm := NewPlotterMetrics()
	pm.SetAxis("x", 1, 2, 3)
	s := NewServer(pm, ServerOptions{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	for i := 0; i < b.N; i++ {
		s.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}
}
