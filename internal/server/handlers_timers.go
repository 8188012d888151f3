package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/claude/restkeeper/internal/countdown"
	"github.com/claude/restkeeper/internal/models"
	"github.com/claude/restkeeper/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) handleCreateTimer(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	var req session.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	req.UserID = uid

	snap, err := s.timers.Create(r.Context(), req)
	if err != nil {
		s.timerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListTimers(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	snaps, err := s.timers.List(r.Context(), uid)
	if err != nil {
		s.timerError(w, err)
		return
	}
	if snaps == nil {
		snaps = []session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGetTimer(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	id, ok := timerID(w, r)
	if !ok {
		return
	}
	snap, err := s.timers.Get(r.Context(), uid, id)
	if err != nil {
		s.timerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleTimerCommand applies start, pause, resume, adjust, skip or reset.
// Commands that do not apply to the current state still answer 200 with
// the unchanged snapshot.
func (s *Server) handleTimerCommand(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	id, ok := timerID(w, r)
	if !ok {
		return
	}
	var cmd session.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	cmd.Action = session.Action(chi.URLParam(r, "action"))

	snap, err := s.timers.Command(r.Context(), uid, id, cmd)
	if err != nil {
		s.timerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDisposeTimer(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	id, ok := timerID(w, r)
	if !ok {
		return
	}
	if err := s.timers.Dispose(r.Context(), uid, id); err != nil {
		s.timerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTimerEvents streams timer events as Server-Sent Events until the
// timer is disposed or the client goes away.
func (s *Server) handleTimerEvents(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	id, ok := timerID(w, r)
	if !ok {
		return
	}
	events, cancel, err := s.timers.Subscribe(r.Context(), uid, id)
	if err != nil {
		s.timerError(w, err)
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("encoding event", "timer_id", id, "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				s.log.Warn("flushing event stream", "error", err)
				return
			}
			if ev.Type == session.EventDisposed {
				return
			}
		}
	}
}

func timerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid timer ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) timerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "timer not found"})
	case errors.Is(err, countdown.ErrInvalidDuration),
		errors.Is(err, models.ErrUnknownKind),
		errors.Is(err, session.ErrUnknownAction):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.log.Error("timer request", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
}
