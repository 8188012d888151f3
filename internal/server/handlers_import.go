package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/claude/restkeeper/internal/ingest"
	"github.com/claude/restkeeper/internal/models"
	"github.com/claude/restkeeper/internal/storage"
)

// maxIngestBody bounds an upload request body.
const maxIngestBody = 4 << 20

func (s *Server) handleIngestRestPeriods(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	start := time.Now()

	var rows []models.RestPeriodRow
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&rows); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	result, err := s.ingest.Ingest(r.Context(), uid, rows)
	go s.logImport(uid, r.Header.Get("User-Agent"), result, err, int(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(err, ingest.ErrBatchTooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
			return
		}
		s.log.Error("ingest error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImportLogs(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	logs, err := s.store.QueryImportLogs(r.Context(), uid, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []storage.ImportLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// logImport records an upload's result to the import_logs table.
func (s *Server) logImport(uid int, source string, result *ingest.Result, importErr error, durationMs int) {
	if source == "" {
		source = "api"
	}
	status := "success"
	var errMsg *string
	if importErr != nil {
		status = "error"
		msg := importErr.Error()
		errMsg = &msg
	}

	log := storage.ImportLog{
		UserID:       uid,
		Source:       source,
		Status:       status,
		DurationMs:   &durationMs,
		ErrorMessage: errMsg,
	}
	if result != nil {
		log.Received = result.Received
		log.Inserted = result.Inserted
		log.Rejected = result.Rejected
	}

	ctx, cancel := contextWithTimeout()
	defer cancel()

	if _, err := s.store.InsertImportLog(ctx, log); err != nil {
		s.log.Error("failed to log import", "source", source, "error", err)
	}
}

// contextWithTimeout returns a background context with a 5-second timeout for async logging.
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd
}
