// Package gateway exposes the session engine over a websocket endpoint,
// plus the Prometheus scrape endpoint. One goroutine pair per connection;
// all session state lives behind the registry.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coworklabs/cowork/internal/auth"
	"github.com/coworklabs/cowork/internal/config"
	"github.com/coworklabs/cowork/internal/observability"
	"github.com/coworklabs/cowork/internal/providers"
	"github.com/coworklabs/cowork/internal/session"
	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/pkg/models"
)

// Server wires the websocket endpoint to the session registry and the
// provider, tool and metrics surfaces.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *session.Registry
	tools    *tools.Registry
	catalog  *providers.Catalog
	auth     *auth.Store
	metrics  *observability.Metrics

	// workdir seeds new sessions when no project directory is configured.
	workdir string

	upgrader websocket.Upgrader
}

// New builds the gateway over already-constructed collaborators.
func New(cfg *config.Config, sessions *session.Registry, reg *tools.Registry, catalog *providers.Catalog, authStore *auth.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	workdir, err := os.Getwd()
	if err != nil {
		workdir = "."
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		tools:    reg,
		catalog:  catalog,
		auth:     authStore,
		metrics:  metrics,
		workdir:  workdir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			// The server binds to loopback; origin checks add nothing there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// sessionConfig is the per-session snapshot new sessions start from.
func (s *Server) sessionConfig() models.SessionConfig {
	model := s.cfg.DefaultModel
	if model == "" {
		model = providers.DefaultModel(s.cfg.DefaultProvider)
	}
	return models.SessionConfig{
		Provider:         s.cfg.DefaultProvider,
		Model:            model,
		SubagentModel:    s.cfg.SubagentModel,
		WorkingDirectory: s.workdir,
		OutputDirectory:  s.cfg.OutputDirectory,
		UploadsDirectory: s.cfg.UploadsDirectory,
		SystemPrompt:     s.cfg.SystemPrompt,
		MaxSteps:         s.cfg.MaxSteps,
		SpawnDepthLimit:  s.cfg.SpawnDepthLimit,
		ProviderOptions:  s.cfg.ProviderOptions,
	}
}

// Handler returns the HTTP mux: /ws for clients, /metrics for Prometheus.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	newConn(s, ws).run()
}

// Run serves until ctx is cancelled, then drains: HTTP shutdown bounded by
// the configured grace period, followed by closing every live session so
// their transcripts persist.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	s.sessions.CloseAll()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
