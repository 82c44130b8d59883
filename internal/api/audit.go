package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-nad/internal/audit"
)

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action type (command, status)
//   - channel: filter by channel ID
//   - result: filter by result (accepted, failed, ONLINE, ...)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Channel: q.Get("channel"),
		Result:  q.Get("result"),
	}
	if len(filter.Action) > maxQueryParamLen || len(filter.Channel) > maxQueryParamLen || len(filter.Result) > maxQueryParamLen {
		writeBadRequest(w, "filter exceeds maximum length")
		return
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
