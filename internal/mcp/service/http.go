package service

import (
	"encoding/json"
	"net/http"

	"github.com/haasonsaas/outie/internal/mcp/protocol"
)

const sessionHeader = "Mcp-Session-Id"

// HTTPHandler exposes Service over HTTP per spec §4.8: POST carries one
// JSON-RPC request or a batch (JSON array); DELETE ends the session.
func (s *Service) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(sessionHeader)

		switch r.Method {
		case http.MethodDelete:
			if sessionID != "" {
				s.EndSession(sessionID)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
			s.handleHTTPPost(w, r, sessionID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (s *Service) handleHTTPPost(w http.ResponseWriter, r *http.Request, sessionID string) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusOK, protocol.ErrorResponse(nil, protocol.CodeParseError, err.Error()))
		return
	}

	reqs, err := decodeRequests(raw)
	if err != nil {
		writeJSON(w, http.StatusOK, protocol.ErrorResponse(nil, protocol.CodeInvalidRequest, err.Error()))
		return
	}

	// initialize allocates the session id the caller should echo back on
	// every subsequent call (spec §4.8).
	for _, req := range reqs {
		if req.Method == "initialize" {
			sess := s.NewSession()
			sessionID = sess.ID
			w.Header().Set(sessionHeader, sessionID)
			break
		}
	}

	responses := s.HandleBatch(r.Context(), sessionID, reqs)
	if len(responses) == 0 {
		// Notification-only batch: acknowledged, no body (spec §4.8).
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if len(reqs) == 1 && !isBatch(raw) {
		writeJSON(w, http.StatusOK, responses[0])
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func decodeRequests(raw json.RawMessage) ([]protocol.Request, error) {
	if isBatch(raw) {
		var reqs []protocol.Request
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, err
		}
		return reqs, nil
	}
	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return []protocol.Request{req}, nil
}

func isBatch(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
