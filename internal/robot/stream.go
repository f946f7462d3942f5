package robot

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"poolbot-server/internal/auth"
	"poolbot-server/internal/observability"
)

// StreamHandler pushes the caller's robot list over Server-Sent Events so
// the frontend can render live status without polling the fetch endpoint.
type StreamHandler struct {
	repo     *Repository
	logger   *observability.Logger
	interval time.Duration
}

func NewStreamHandler(repo *Repository, logger *observability.Logger, interval time.Duration) *StreamHandler {
	if interval <= 0 {
		interval = time.Second
	}

	return &StreamHandler{repo: repo, logger: logger, interval: interval}
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no token provided")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			robots, err := h.repo.ListOwnedBy(r.Context(), identity.UserID)
			if err != nil {
				h.logger.Error("stream_list_failed", map[string]any{
					"user_id": identity.UserID,
					"error":   err.Error(),
				})
				return
			}

			encoded, err := json.Marshal(map[string]any{"robots": robots})
			if err != nil {
				return
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", encoded); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
