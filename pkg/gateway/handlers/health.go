package handlers

import (
	"net/http"

	"github.com/hireloop/interviewd/pkg/gateway/config"
	"github.com/hireloop/interviewd/pkg/interview/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config   config.Config
	Registry *sessions.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool   `json:"ok"`
		UpstreamMode string `json:"upstream_mode"`
		LiveSessions int    `json:"live_sessions"`
		MaxSessions  int    `json:"max_sessions"`
	}
	resp := readyResp{
		OK:           true,
		UpstreamMode: string(h.Config.UpstreamMode),
		MaxSessions:  h.Config.MaxSessions,
	}
	if h.Registry != nil {
		resp.LiveSessions = h.Registry.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}
