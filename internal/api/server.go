package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/router"
	"github.com/ignite/alertflow/internal/scheduler"
	"github.com/ignite/alertflow/internal/store"
	"github.com/ignite/alertflow/internal/supervisor"
)

// Server is the operational HTTP surface of the pipeline: health,
// supervisor status (snapshot and live stream), and the operator
// controls for the scheduler and trigger routing.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// New wires the API over the running pipeline components.
func New(cfg config.ServerConfig, st *store.Store, sup *supervisor.Supervisor,
	sched *scheduler.Scheduler, rt *router.Router) *Server {
	h := &Handlers{store: st, sup: sup, sched: sched, router: rt}
	return &Server{cfg: cfg, handler: SetupRoutes(h)}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// WriteTimeout stays off so the status stream can run long;
		// regular endpoints finish well within the read timeouts.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
