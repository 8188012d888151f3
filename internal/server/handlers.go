package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/claude/restkeeper/internal/coach"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

func (s *Server) handleQueryRestPeriods(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	exercise := r.URL.Query().Get("exercise")
	rows, err := s.store.QueryRestPeriods(r.Context(), start, end, uid, exercise)
	if err != nil {
		s.log.Error("query rest periods", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRestStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	stats, err := s.store.GetRestStats(r.Context(), start, end, uid)
	if err != nil {
		s.log.Error("rest stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Classification is the coach's view of one exercise.
type Classification struct {
	Name               string         `json:"name"`
	Category           coach.Category `json:"category"`
	RecommendedRestSec int            `json:"recommended_rest_sec"`
	Tip                string         `json:"tip"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name parameter required"})
		return
	}
	c := coach.Classify(name)
	writeJSON(w, http.StatusOK, Classification{
		Name:               name,
		Category:           c,
		RecommendedRestSec: coach.RecommendedRest(c),
		Tip:                coach.SetupTip(name),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" {
		// Default: last 7 days
		end = time.Now()
		start = end.AddDate(0, 0, -7)
		return
	}

	start, err = parseTime(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if endStr == "" {
		end = time.Now()
		return
	}
	end, err = time.Parse(time.RFC3339, endStr)
	if err != nil {
		end, err = time.Parse(time.DateOnly, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		// End of day for date-only
		end = end.Add(24 * time.Hour)
	}
	return
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
