package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type Producer interface {
	Write(ctx context.Context, p Ping) error
	Close() error
}

// Handler processes incoming GPS data.
type Handler struct {
	producer Producer
}

// NewHandler creates a handler with the given producer.
func NewHandler(p Producer) *Handler {
	return &Handler{producer: p}
}

// ServeHTTP handles POST /pings.
// Always expects an array of Pings.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	// Use slice instead of single Ping for batch processing: tags buffer
	// points locally and upload them in bursts when coverage returns
	var pings []Ping
	if err := json.NewDecoder(r.Body).Decode(&pings); err != nil {
		http.Error(w, "invalid JSON: expected array", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	for _, p := range pings {
		if err := p.Valid(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Receipt time is stamped at the edge, never trusted from the device.
		p.ReceivedAt = now
		if err := h.producer.Write(r.Context(), p); err != nil {
			slog.Error("kafka write failed",
				"error", err,
				"tag_id", p.TagID,
				"request_id", r.Header.Get("X-Request-ID"),
			)
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
