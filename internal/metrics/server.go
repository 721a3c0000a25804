package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus registry and a health endpoint.
type Server struct {
	cfg      *config.MetricsConfig
	log      *logger.Logger
	server   *http.Server
	listener net.Listener
}

func NewServer(cfg *config.MetricsConfig, log *logger.Logger) *Server {
	return &Server{cfg: cfg, log: log}
}

// Start binds the listener and serves in the background.
// A bind failure is returned to the caller.
func (s *Server) Start(_ context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:          zapErrorLog{s.log},
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /health", healthHandler)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("metrics server error", "error", err)
		}
	}()

	s.log.Infow("metrics server started", "address", listener.Addr().String(), "path", s.cfg.Path)

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	return nil
}

// healthHandler answers 503 while any component reports unhealthy.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	if down := Unhealthy(); len(down) > 0 {
		http.Error(w, "unhealthy: "+strings.Join(down, ","), http.StatusServiceUnavailable)
		return
	}

	_, _ = w.Write([]byte("OK"))
}

// zapErrorLog adapts the logger to promhttp.Logger.
type zapErrorLog struct {
	log *logger.Logger
}

func (l zapErrorLog) Println(v ...any) {
	l.log.Error(v...)
}
