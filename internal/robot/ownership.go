package robot

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"poolbot-server/internal/auth"
)

type contextKey int

const robotKey contextKey = iota

// RequireOwnership resolves the robot named in the request body and rejects
// callers who do not own it. It must always be chained after RequireAuth so
// an unauthenticated caller never learns whether a robot id exists. The
// ownership predicate is re-evaluated on every request, never cached.
func RequireOwnership(repo *Repository, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "no token provided")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		// The downstream handler decodes the same body again.
		r.Body = io.NopCloser(bytes.NewReader(body))

		var peek struct {
			RobotID string `json:"robotId"`
		}
		if err := json.Unmarshal(body, &peek); err != nil || strings.TrimSpace(peek.RobotID) == "" {
			writeError(w, http.StatusBadRequest, "robotId is required")
			return
		}

		target, err := repo.GetByRobotID(r.Context(), peek.RobotID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "robot not found")
				return
			}
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if target.OwnedByUserID == nil || *target.OwnedByUserID != identity.UserID {
			writeError(w, http.StatusForbidden, "not the robot owner")
			return
		}

		next.ServeHTTP(w, r.WithContext(withRobot(r.Context(), target)))
	})
}

func withRobot(ctx context.Context, robot Robot) context.Context {
	return context.WithValue(ctx, robotKey, robot)
}

func RobotFromContext(ctx context.Context) (Robot, bool) {
	robot, ok := ctx.Value(robotKey).(Robot)
	return robot, ok
}
