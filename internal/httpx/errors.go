package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON writes a JSON body with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code and logs it
// with the correlation id attached.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}
	cid, _ := GetID(ctx)
	log.Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
}
