package mw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seen == "" || !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q", seen)
	}
	if got := rr.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("header = %q, ctx = %q", got, seen)
	}
}

func TestRequestIDHonorsInboundHeader(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_client42")
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req_client42" {
		t.Fatalf("header = %q", got)
	}
}

func TestRecoverConvertsPanicToJSON(t *testing.T) {
	h := RequestID(Recover(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var env errorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Code != "internal_error" {
		t.Fatalf("code = %q", env.Error.Code)
	}
}

func TestAccessLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestID(AccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil))

	out := buf.String()
	if !strings.Contains(out, `"status":404`) {
		t.Fatalf("log line missing status: %s", out)
	}
	if !strings.Contains(out, `"request_id":"req_`) {
		t.Fatalf("log line missing request id: %s", out)
	}
}
