// Package server exposes build, score and status over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"island/internal/usecase"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "Island Scorer"

// Config wires the use cases into the HTTP surface.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string

	Build  *usecase.BuildUseCase
	Score  *usecase.ScoreUseCase
	Status *usecase.StatusUseCase
	Logger *slog.Logger
}

// Server is the island HTTP API.
type Server struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Server
}

// New builds the router and the underlying http.Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /build", s.handleBuild)
	mux.HandleFunc("POST /score", s.handleScore)
	mux.HandleFunc("GET /world/{id}/status", s.handleStatus)
	mux.HandleFunc("DELETE /world/{id}/cache", s.handleClearWorld)
	mux.HandleFunc("DELETE /cache", s.handleClearAll)
	mux.HandleFunc("GET /worlds", s.handleWorlds)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain(mux, s.recoverer, s.accessLog, requestID),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
