package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hireloop/interviewd/pkg/store"
)

// Planner generates the prepared question list at session-setup time.
type Planner interface {
	GenerateQuestions(ctx context.Context, sess *store.Session) ([]string, error)
}

// Reporter produces the post-interview scorecard and summary.
type Reporter interface {
	ScoreInterview(ctx context.Context, sess *store.Session, transcript []store.TranscriptEntry) (string, error)
	SummarizeInterview(ctx context.Context, sess *store.Session, transcript []store.TranscriptEntry) (string, error)
}

// SessionsHandler serves the session CRUD surface under /v1/sessions.
type SessionsHandler struct {
	Store    store.Store
	Planner  Planner
	Reporter Reporter
	Logger   *slog.Logger
}

type sessionBody struct {
	Role            string `json:"role"`
	ExperienceLevel string `json:"experience_level,omitempty"`
	Company         string `json:"company,omitempty"`
	Industry        string `json:"industry,omitempty"`
	Region          string `json:"region,omitempty"`
	JobDescription  string `json:"job_description,omitempty"`
	ResumeText      string `json:"resume_text,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Language        string `json:"language,omitempty"`
	Type            string `json:"type,omitempty"`
	Rubric          string `json:"rubric,omitempty"`
}

type sessionResp struct {
	ID string `json:"id"`
	sessionBody
	Questions []string   `json:"questions"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func toSessionResp(s *store.Session) sessionResp {
	return sessionResp{
		ID: s.ID,
		sessionBody: sessionBody{
			Role:            s.Role,
			ExperienceLevel: s.ExperienceLevel,
			Company:         s.Company,
			Industry:        s.Industry,
			Region:          s.Region,
			JobDescription:  s.JobDescription,
			ResumeText:      s.ResumeText,
			DurationMinutes: s.DurationMinutes,
			Language:        s.Language,
			Type:            string(s.Type),
			Rubric:          s.Rubric,
		},
		Questions: s.Questions,
		CreatedAt: s.CreatedAt,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
}

// Create handles POST /v1/sessions: validate, generate the question list,
// persist.
func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body sessionBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid session body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Role) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "role is required")
		return
	}
	if body.DurationMinutes <= 0 || body.DurationMinutes > 180 {
		writeError(w, http.StatusBadRequest, "bad_request", "duration_minutes must be in 1..180")
		return
	}
	sessType := store.InterviewType(body.Type)
	switch sessType {
	case "":
		sessType = store.TypePractice
	case store.TypePractice, store.TypeScreening:
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "type must be practice or screening")
		return
	}

	sess := &store.Session{
		Role:            strings.TrimSpace(body.Role),
		ExperienceLevel: strings.TrimSpace(body.ExperienceLevel),
		Company:         strings.TrimSpace(body.Company),
		Industry:        strings.TrimSpace(body.Industry),
		Region:          strings.TrimSpace(body.Region),
		JobDescription:  body.JobDescription,
		ResumeText:      body.ResumeText,
		DurationMinutes: body.DurationMinutes,
		Language:        strings.TrimSpace(body.Language),
		Type:            sessType,
		Rubric:          body.Rubric,
	}

	questions, err := h.Planner.GenerateQuestions(r.Context(), sess)
	if err != nil {
		h.Logger.Error("question generation failed", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "could not generate interview questions")
		return
	}
	sess.Questions = questions

	if err := h.Store.CreateSession(r.Context(), sess); err != nil {
		h.Logger.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not persist session")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResp(sess))
}

// Get handles GET /v1/sessions/{id}.
func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResp(sess))
}

type transcriptEntryResp struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Transcript handles GET /v1/sessions/{id}/transcript.
func (h SessionsHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	entries, err := h.Store.ListTranscript(r.Context(), sess.ID)
	if err != nil {
		h.Logger.Error("list transcript failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load transcript")
		return
	}
	out := make([]transcriptEntryResp, 0, len(entries))
	for _, e := range entries {
		out = append(out, transcriptEntryResp{
			Speaker:   string(e.Speaker),
			Text:      e.Text,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "entries": out})
}

type reportResp struct {
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary"`
	Scorecard string    `json:"scorecard"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateReport handles POST /v1/sessions/{id}/report: score the finished
// transcript and persist the result. Regenerating overwrites the previous
// report.
func (h SessionsHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	entries, err := h.Store.ListTranscript(r.Context(), sess.ID)
	if err != nil {
		h.Logger.Error("list transcript failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load transcript")
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusConflict, "no_transcript", "session has no transcript to score")
		return
	}

	summary, err := h.Reporter.SummarizeInterview(r.Context(), sess, entries)
	if err != nil {
		h.Logger.Error("summary generation failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "could not generate summary")
		return
	}
	scorecard, err := h.Reporter.ScoreInterview(r.Context(), sess, entries)
	if err != nil {
		h.Logger.Error("scorecard generation failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "could not generate scorecard")
		return
	}

	rep := &store.Report{SessionID: sess.ID, Summary: summary, Scorecard: scorecard, CreatedAt: time.Now()}
	if err := h.Store.SaveReport(r.Context(), rep); err != nil {
		h.Logger.Error("save report failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not persist report")
		return
	}
	writeJSON(w, http.StatusCreated, reportResp{
		SessionID: rep.SessionID,
		Summary:   rep.Summary,
		Scorecard: rep.Scorecard,
		CreatedAt: rep.CreatedAt,
	})
}

// GetReport handles GET /v1/sessions/{id}/report.
func (h SessionsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	rep, err := h.Store.GetReport(r.Context(), sess.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no report for this session")
			return
		}
		h.Logger.Error("get report failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load report")
		return
	}
	writeJSON(w, http.StatusOK, reportResp{
		SessionID: rep.SessionID,
		Summary:   rep.Summary,
		Scorecard: rep.Scorecard,
		CreatedAt: rep.CreatedAt,
	})
}

func (h SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session id is required")
		return nil, false
	}
	sess, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return nil, false
		}
		h.Logger.Error("get session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load session")
		return nil, false
	}
	return sess, true
}
