package server

import (
	"net/http"
	"strconv"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

// defaultRecent is the size of the settings-page usage log.
const defaultRecent = 20

func (s *server) handleQueryUsage(w http.ResponseWriter, r *http.Request) {
	since, until, ok := parseBounds(w, r, time.RFC3339, "RFC3339")
	if !ok {
		return
	}
	q := r.URL.Query()
	offset, limit := parsePagination(r)
	filter := gateway.UsageFilter{
		Model:   q.Get("model"),
		Feature: q.Get("feature"),
		Since:   since,
		Until:   until,
		Offset:  offset,
		Limit:   limit,
	}
	records, err := s.deps.Usage.QueryUsage(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, _ := s.deps.Usage.CountUsage(r.Context(), filter)
	if records == nil {
		records = []gateway.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       records,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

func (s *server) handleRecentUsage(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if n <= 0 || n > 100 {
		n = defaultRecent
	}
	records, err := s.deps.Ledger.Recent(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []gateway.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

func (s *server) handleDailyUsage(w http.ResponseWriter, r *http.Request) {
	since, until, ok := parseBounds(w, r, time.DateOnly, "YYYY-MM-DD")
	if !ok {
		return
	}
	q := r.URL.Query()
	rollups, err := s.deps.Usage.QueryRollups(r.Context(), gateway.RollupFilter{
		Model:   q.Get("model"),
		Feature: q.Get("feature"),
		Since:   since,
		Until:   until,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rollups == nil {
		rollups = []gateway.UsageRollup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rollups})
}
