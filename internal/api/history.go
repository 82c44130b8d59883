package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-nad/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleListHistory returns recorded channel values, newest first.
//
// Query parameters:
//   - channel: optional channel ID (zone1#volumeDB); all channels when empty
//   - limit: max results (default 50, max 500)
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history not enabled")
		return
	}

	channel := r.URL.Query().Get("channel")
	if len(channel) > maxQueryParamLen {
		writeBadRequest(w, "channel exceeds maximum length")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.List(r.Context(), channel, limit)
	if err != nil {
		s.logger.Error("failed to list state history", "channel", channel, "error", err)
		writeInternalError(w, "failed to list state history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"history": entries,
		"count":   len(entries),
	})
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}
