package httpx

import (
	"io"
	"net/http"
	"strings"
)

// maxTraceBody bounds PUT /api/trace payloads; identifiers are short strings.
const maxTraceBody = 1024

type traceResponse struct {
	CorrelationID string `json:"correlation_id"`
}

// handleTrace exposes the current correlation identifier to clients.
// GET returns it. PUT overwrites the current scope's identifier with the
// request body; the value is taken as-is, matching SetID's contract that
// explicit writes are not re-validated.
func (h *Handler) handleTrace(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cid, ok := GetID(r.Context())
		if !ok {
			// Unreachable behind the middleware; guards direct mounting.
			h.writeError(r.Context(), w, http.StatusInternalServerError, "no correlation scope")
			return
		}
		h.writeJSON(w, http.StatusOK, traceResponse{CorrelationID: cid})
	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTraceBody))
		if err != nil {
			h.writeError(r.Context(), w, http.StatusBadRequest, "unreadable body")
			return
		}
		id := strings.TrimSpace(string(body))
		if id == "" {
			h.writeError(r.Context(), w, http.StatusBadRequest, "empty identifier")
			return
		}
		if err := SetID(r.Context(), id); err != nil {
			h.writeError(r.Context(), w, http.StatusInternalServerError, "no correlation scope")
			return
		}
		h.writeJSON(w, http.StatusOK, traceResponse{CorrelationID: id})
	default:
		w.Header().Set("Allow", "GET, PUT")
		h.writeError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
