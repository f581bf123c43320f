// HTTP endpoint for the plotter metrics
//
// /metrics renders the registry, /health always answers, and /ready answers
// 200 only after SetReady(true), which the plotter calls once both axes are
// homed and commands are being dispatched.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Gatherer renders metrics in Prometheus text format.
type Gatherer interface {
	Gather() string
}

// ServerOptions configures a Server. Username and Password enable basic
// auth on /metrics when either is set.
type ServerOptions struct {
	Address      string
	Username     string
	Password     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o *ServerOptions) setDefaults() {
	if o.Address == "" {
		o.Address = ":9100"
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

// Server exposes a Gatherer over HTTP.
type Server struct {
	opts    ServerOptions
	src     Gatherer
	handler http.Handler
	http    *http.Server

	serving atomic.Bool
	ready   atomic.Bool
	started atomic.Int64 // unix nanoseconds
}

// NewServer builds a server; nothing listens until Run.
func NewServer(src Gatherer, opts ServerOptions) *Server {
	opts.setDefaults()
	s := &Server{opts: opts, src: src}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.serveMetrics)
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/ready", s.serveReady)
	mux.HandleFunc("/", s.serveIndex)
	s.handler = mux

	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Address is the configured listen address.
func (s *Server) Address() string { return s.opts.Address }

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.handler }

// Serving reports whether Run is accepting connections.
func (s *Server) Serving() bool { return s.serving.Load() }

// SetReady sets the /ready answer.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Uptime is the time since Run started listening, zero if it has not.
func (s *Server) Uptime() time.Duration {
	if !s.serving.Load() {
		return 0
	}
	return time.Since(time.Unix(0, s.started.Load()))
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.opts.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down within five seconds.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.started.Store(time.Now().UnixNano())
	s.serving.Store(true)
	defer s.serving.Store(false)

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="plotter"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := s.src.Gather()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method == http.MethodGet {
		_, _ = w.Write([]byte(body))
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) serveReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() {
		writeText(w, http.StatusOK, "Ready")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "Not Ready")
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeText(w, http.StatusOK, "plotter metrics\n/metrics\n/health\n/ready")
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.Username == "" && s.opts.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	u := subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.Username))
	p := subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.Password))
	return u&p == 1
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = fmt.Fprintln(w, msg)
}
