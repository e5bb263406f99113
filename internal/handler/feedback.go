package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examforge/internal/metrics"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/session"
)

type startFeedbackRequest struct {
	TeacherScript string `json:"teacherScript"`
	StudentScript string `json:"studentScript"`
}

type startFeedbackResponse struct {
	Feedback  string `json:"feedback"`
	SessionID string `json:"sessionId"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Message string `json:"message"`
	Closed  bool   `json:"closed,omitempty"`
}

func (h *Handler) handleStartFeedback(w http.ResponseWriter, r *http.Request) {
	var req startFeedbackRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, err)
		return
	}
	s, err := h.sessions.Start(r.Context(), req.TeacherScript, req.StudentScript)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.FeedbackSessions.WithLabelValues("started").Inc()
	writeJSON(w, http.StatusOK, startFeedbackResponse{Feedback: s.OriginFeedback, SessionID: s.ID})
}

func (h *Handler) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, &model.InvalidConfigError{Field: "message", Reason: "must not be empty"})
		return
	}

	reply, err := h.sessions.Ask(r.Context(), chi.URLParam(r, "sessionID"), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	closed := session.IsExitWord(req.Message)
	if closed {
		metrics.FeedbackSessions.WithLabelValues("closed").Inc()
	} else {
		metrics.FeedbackSessions.WithLabelValues("message").Inc()
	}
	writeJSON(w, http.StatusOK, chatResponse{Message: reply, Closed: closed})
}

func (h *Handler) handleCloseFeedback(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err)
		return
	}
	metrics.FeedbackSessions.WithLabelValues("closed").Inc()
	w.WriteHeader(http.StatusNoContent)
}
