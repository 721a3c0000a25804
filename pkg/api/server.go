package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	"github.com/klauspost/compress/gzhttp"
)

const shutdownCtxTimeout = 10 * time.Second

// Server represents the API HTTP server.
type Server struct {
	config  *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer creates a new API server.
func NewServer(cfg *config.APIConfig, reader CanvasReader, updates UpdateSource, log *logger.Logger) *Server {
	handler := NewHandler(reader, updates, cfg.StreamBuffer, log)
	if cfg.CORS.Enabled {
		handler.checkOrigin = originChecker(cfg.CORS.AllowedOrigins)
	}

	rest := http.NewServeMux()

	rest.HandleFunc("GET /health", handler.Health)

	// Canvas query endpoints
	rest.HandleFunc("GET /api/v1/pixels", handler.ListPixels)
	rest.HandleFunc("GET /api/v1/pixels/{x}/{y}", handler.GetPixel)
	rest.HandleFunc("GET /api/v1/region", handler.GetRegion)
	rest.HandleFunc("GET /api/v1/export", handler.Export)

	// Engine status endpoints
	rest.HandleFunc("GET /api/v1/stats", handler.GetStats)
	rest.HandleFunc("GET /api/v1/gaps", handler.ListGaps)

	// the stream hijacks its connection so it stays outside the gzip wrapper
	mux := http.NewServeMux()
	mux.Handle("/", gzhttp.GzipHandler(rest))
	mux.HandleFunc("GET /api/v1/stream", handler.Stream)

	// Apply middleware
	var h http.Handler = mux
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)

	if cfg.CORS.Enabled {
		h = CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.MaxAge)(h)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  cfg.IdleTimeout.Duration,
	}

	return &Server{
		config:  cfg,
		handler: handler,
		server:  httpServer,
		log:     log,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API server is disabled")
		return nil
	}

	s.log.Infof("Starting API server on %s", s.config.ListenAddress)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("API server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCtxTimeout)
	defer cancel()

	s.log.Info("Shutting down API server...")

	// hijacked stream connections are not tracked by Shutdown
	s.handler.closeStreams()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown error: %w", err)
	}

	s.log.Info("API server stopped")
	return nil
}
