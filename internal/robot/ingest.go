package robot

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/getsentry/sentry-go"

	"poolbot-server/internal/observability"
	"poolbot-server/internal/relay"
)

type statusUpdate struct {
	RobotID string `json:"robotId"`
	Status  string `json:"status"`
}

// StatusIngestor handles device-reported state from the shared status topic.
// Updates are applied unconditionally (last write wins); a race against an
// HTTP-issued status write is an accepted property of the design. Bad
// payloads and store failures are logged and dropped, never fatal to the
// subscription.
func StatusIngestor(repo *Repository, logger *observability.Logger) relay.Handler {
	return func(ctx context.Context, payload []byte) {
		var update statusUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			logger.Warn("status_payload_invalid", map[string]any{"error": err.Error()})
			return
		}

		update.RobotID = strings.TrimSpace(update.RobotID)
		update.Status = strings.TrimSpace(update.Status)
		if update.RobotID == "" || update.Status == "" {
			logger.Warn("status_payload_incomplete", map[string]any{
				"robot_id": update.RobotID,
				"status":   update.Status,
			})
			return
		}

		if err := repo.UpdateStatus(ctx, update.RobotID, update.Status); err != nil {
			sentry.CaptureException(err)
			logger.Error("status_update_failed", map[string]any{
				"robot_id": update.RobotID,
				"status":   update.Status,
				"error":    err.Error(),
			})
			return
		}

		logger.Info("status_updated", map[string]any{
			"robot_id": update.RobotID,
			"status":   update.Status,
		})
	}
}
