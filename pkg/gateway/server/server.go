// Package server assembles the HTTP surface: session CRUD, reports, health
// probes, and the live websocket endpoint, wrapped in the shared middleware
// chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/hireloop/interviewd/pkg/gateway/config"
	"github.com/hireloop/interviewd/pkg/gateway/handlers"
	"github.com/hireloop/interviewd/pkg/gateway/mw"
	"github.com/hireloop/interviewd/pkg/interview/session"
	"github.com/hireloop/interviewd/pkg/interview/sessions"
	"github.com/hireloop/interviewd/pkg/store"
)

// Dependencies carries everything the route table needs. The caller owns
// construction so main can swap stores and upstream factories by config.
type Dependencies struct {
	Store       store.Store
	Registry    *sessions.Registry
	Planner     handlers.Planner
	Reporter    handlers.Reporter
	Decider     session.Decider
	NewUpstream handlers.UpstreamFactory
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(cfg config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes(deps)
	return s
}

func (s *Server) routes(deps Dependencies) {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Registry: deps.Registry})

	crud := handlers.SessionsHandler{
		Store:    deps.Store,
		Planner:  deps.Planner,
		Reporter: deps.Reporter,
		Logger:   s.logger,
	}
	s.mux.HandleFunc("POST /v1/sessions", crud.Create)
	s.mux.HandleFunc("GET /v1/sessions/{id}", crud.Get)
	s.mux.HandleFunc("GET /v1/sessions/{id}/transcript", crud.Transcript)
	s.mux.HandleFunc("POST /v1/sessions/{id}/report", crud.CreateReport)
	s.mux.HandleFunc("GET /v1/sessions/{id}/report", crud.GetReport)

	s.mux.Handle("GET /v1/live", handlers.LiveHandler{
		Config:      s.cfg,
		Store:       deps.Store,
		Registry:    deps.Registry,
		Decider:     deps.Decider,
		NewUpstream: deps.NewUpstream,
		Logger:      s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
