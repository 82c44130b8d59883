package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
)

// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// handleGetState returns every known channel value.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	state := s.bridge.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state": state,
		"count": len(state),
	})
}

// handleGetChannel returns the cached value of /state/{scope}/{attr}.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	attr := chi.URLParam(r, "attr")
	if scope == "" || attr == "" || len(scope)+len(attr) > maxQueryParamLen {
		writeBadRequest(w, "invalid channel")
		return
	}

	channel := nad.ChannelID(scope, attr)
	value, ok := s.bridge.Value(channel)
	if !ok {
		writeNotFound(w, "channel has no value")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"value":   value,
	})
}

// commandRequest is the body of POST /commands.
type commandRequest struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Command string `json:"command"`
	Value   string `json:"value"`
	UserID  string `json:"user_id"`
}

// handleCommand executes one command against the receiver and returns the
// acknowledgment. The status code follows the ack error code.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Channel == "" || req.Command == "" {
		writeBadRequest(w, "channel and command are required")
		return
	}
	if _, _, err := nad.ParseChannelID(req.Channel); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ack := s.bridge.Execute(r.Context(), nad.CommandMessage{
		ID:        req.ID,
		Timestamp: time.Now().UTC(),
		Channel:   req.Channel,
		Command:   req.Command,
		Value:     req.Value,
		Source:    "api",
		UserID:    req.UserID,
	})

	writeJSON(w, ackHTTPStatus(ack), ack)
}

// ackHTTPStatus maps an acknowledgment onto an HTTP status code.
func ackHTTPStatus(ack nad.AckMessage) int {
	if ack.Status == nad.AckAccepted || ack.Error == nil {
		return http.StatusOK
	}
	switch ack.Error.Code {
	case nad.ErrCodeInvalidCommand, nad.ErrCodeUnsupportedValue:
		return http.StatusBadRequest
	case nad.ErrCodeUnknownChannel:
		return http.StatusNotFound
	case nad.ErrCodeDeviceUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
