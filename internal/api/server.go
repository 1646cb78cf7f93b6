// Package api exposes the orchestrator core over HTTP: a thin adapter
// that validates requests, dispatches to the core components, and
// frames their results as JSON.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/krinkuto11/ace-orchestrator/internal/autoscale"
	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/events"
	"github.com/krinkuto11/ace-orchestrator/internal/lifecycle"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/metrics"
	"github.com/krinkuto11/ace-orchestrator/internal/runtime"
	"github.com/krinkuto11/ace-orchestrator/internal/state"
	"github.com/krinkuto11/ace-orchestrator/internal/version"
)

// Server is the orchestrator's HTTP API.
type Server struct {
	cfg *config.Config
	reg *state.Registry
	pr  *lifecycle.Provisioner
	ing *events.Ingestor
	as  *autoscale.Autoscaler
	rt  runtime.Adapter
	log *logging.Logger
	mux *http.ServeMux
	srv *http.Server
	ln  net.Listener
}

// NewServer wires every core component into the HTTP surface.
func NewServer(cfg *config.Config, reg *state.Registry, pr *lifecycle.Provisioner, ing *events.Ingestor, as *autoscale.Autoscaler, rt runtime.Adapter, log *logging.Logger) *Server {
	s := &Server{cfg: cfg, reg: reg, pr: pr, ing: ing, as: as, rt: rt, log: log, mux: http.NewServeMux()}
	s.registerRoutes()
	s.srv = &http.Server{Handler: s.mux}
	return s
}

func (s *Server) registerRoutes() {
	auth := func(h http.HandlerFunc) http.HandlerFunc { return requireAuth(s.cfg, h) }

	s.mux.HandleFunc("POST /provision", auth(s.handleProvision))
	s.mux.HandleFunc("POST /provision/acestream", auth(s.handleProvisionAcestream))

	s.mux.HandleFunc("POST /events/stream_started", auth(s.handleStreamStarted))
	s.mux.HandleFunc("POST /events/stream_ended", auth(s.handleStreamEnded))

	s.mux.HandleFunc("GET /engines", s.handleListEngines)
	s.mux.HandleFunc("GET /engines/{container_id}", s.handleGetEngine)
	s.mux.HandleFunc("GET /engines/{container_id}/streams", s.handleGetEngineStreams)

	s.mux.HandleFunc("GET /streams", s.handleListStreams)
	s.mux.HandleFunc("GET /streams/{id}/stats", s.handleStreamStats)

	s.mux.HandleFunc("GET /containers/{container_id}", s.handleInspectContainer)
	s.mux.HandleFunc("GET /by-label", auth(s.handleByLabel))
	s.mux.HandleFunc("DELETE /containers/{container_id}", auth(s.handleDeleteContainer))
	s.mux.HandleFunc("POST /gc", auth(s.handleGC))
	s.mux.HandleFunc("POST /scale/{demand}", auth(s.handleScale))

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// Start begins listening on APP_PORT.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.cfg.AppPort)))
	if err != nil {
		return err
	}
	s.ln = ln

	s.log.WithField("port", s.cfg.AppPort).Info("http api listening")

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version()})
}

