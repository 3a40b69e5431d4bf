// Package api exposes the governance facade over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ppiankov/dcawatch/internal/contract"
	"github.com/ppiankov/dcawatch/internal/governance"
)

// ActorHeader names the caller on read endpoints.
const ActorHeader = "X-Actor"

const maxBodyBytes = 1 << 20

// Config holds HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the governance API.
type Server struct {
	facade    *governance.Facade
	contracts *contract.Source
	logger    *slog.Logger
	router    chi.Router
	http      *http.Server
}

// New builds the router and the underlying http.Server.
func New(cfg Config, facade *governance.Facade, contracts *contract.Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		facade:    facade,
		contracts: contracts,
		logger:    logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/cases/check", s.checkCase)
		r.Post("/cases/assess", s.assessCases)
		r.Post("/actions", s.recordAction)
		r.Get("/ledger", s.ledgerEntries)
		r.Get("/ledger/verify", s.verifyLedger)
	})
	s.router = r

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on the configured address. Blocks until shut down.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on lis. A graceful shutdown is not reported as an error.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("http server listening", "addr", lis.Addr().String())
	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
