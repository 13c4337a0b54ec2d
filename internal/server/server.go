// Package server exposes the interception proxy over HTTP together with a
// small control surface under /__offcache/.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/internal/config"
	"github.com/unkn0wn-root/offcache/prefs"
)

// Prefix is the path prefix of the control endpoints. Every other path is
// handed to the proxy.
const Prefix = "/__offcache/"

// Deps are the components the server fronts. Prefs may be nil, which disables
// the prefs and text endpoints.
type Deps struct {
	Registration *offcache.Registration
	Proxy        *offcache.Proxy
	Storage      offcache.Storage
	Prefs        *prefs.Store
}

// Server handles HTTP requests for the proxy and the control surface.
type Server struct {
	cfg    *config.Config
	logger *log.Logger
	server *http.Server
	deps   Deps

	// closed on Shutdown so event streams end
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a new server.
func New(cfg *config.Config, logger *log.Logger, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		done:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+Prefix+"status", s.handleStatus)
	mux.HandleFunc("POST "+Prefix+"message", s.handleMessage)
	mux.HandleFunc("GET "+Prefix+"events", s.handleEvents)
	if deps.Prefs != nil {
		mux.HandleFunc("GET "+Prefix+"prefs", s.handleGetPrefs)
		mux.HandleFunc("PUT "+Prefix+"prefs", s.handlePutPrefs)
		mux.HandleFunc("GET "+Prefix+"text", s.handleGetText)
		mux.HandleFunc("PUT "+Prefix+"text", s.handlePutText)
	}
	mux.Handle("/", deps.Proxy)

	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr, "origin", s.cfg.Origin)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and waits for in-flight cache writes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.doneOnce.Do(func() { close(s.done) })
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.deps.Proxy.Wait(ctx)
}
