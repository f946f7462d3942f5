package robot

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"poolbot-server/internal/auth"
	"poolbot-server/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// CommandPublisher pushes an operator command onto the robot's device
// channel. Publishing is fire-and-forget relative to the HTTP response.
type CommandPublisher interface {
	PublishCommand(robotID, status string) error
}

type Handler struct {
	repo      *Repository
	publisher CommandPublisher
	logger    *observability.Logger
}

func NewHandler(repo *Repository, publisher CommandPublisher, logger *observability.Logger) *Handler {
	return &Handler{repo: repo, publisher: publisher, logger: logger}
}

// UserID is accepted for wire compatibility with older clients but ignored:
// the caller's identity always comes from the verified token.
type robotRequest struct {
	RobotID string `json:"robotId"`
	UserID  string `json:"userId,omitempty"`
}

type renameRequest struct {
	RobotID  string  `json:"robotId"`
	UserID   string  `json:"userId,omitempty"`
	Name     string  `json:"name"`
	Location *string `json:"location,omitempty"`
}

type fetchRequest struct {
	UserID string `json:"userId,omitempty"`
}

// New claims an unowned robot for the caller. A missing robot and an
// already-owned robot get the same 403 body so the endpoint is not an
// existence oracle for robot ids.
func (h *Handler) New(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no token provided")
		return
	}

	body, ok := decodeRobotRequest(w, r)
	if !ok {
		return
	}

	if err := h.repo.Claim(r.Context(), body.RobotID, identity.UserID); err != nil {
		if errors.Is(err, ErrNotClaimable) {
			writeError(w, http.StatusForbidden, "robot not available")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Delete releases the caller's claim. Releasing an already-unowned robot is
// an idempotent no-op.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no token provided")
		return
	}

	body, ok := decodeRobotRequest(w, r)
	if !ok {
		return
	}

	target, err := h.repo.GetByRobotID(r.Context(), body.RobotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "robot not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if target.OwnedByUserID == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	if *target.OwnedByUserID != identity.UserID {
		writeError(w, http.StatusForbidden, "not the robot owner")
		return
	}

	if err := h.repo.Release(r.Context(), body.RobotID); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	target, ok := RobotFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body renameRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.repo.Rename(r.Context(), target.RobotID, body.Name, body.Location); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, StatusRoaming)
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, StatusStopping)
}

// command applies the status to the store first and answers the caller on
// that basis; the device publish afterwards is at-most-once. If the publish
// fails the store holds a status the device was never told to adopt. That
// window is logged, not rolled back and not retried.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, status string) {
	target, ok := RobotFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var err error
	switch status {
	case StatusRoaming:
		err = h.repo.MarkStarted(r.Context(), target.RobotID, status)
	default:
		err = h.repo.MarkStopped(r.Context(), target.RobotID, status)
	}
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.publisher.PublishCommand(target.RobotID, status); err != nil {
		sentry.CaptureException(err)
		h.logger.Warn("command_publish_failed", map[string]any{
			"robot_id": target.RobotID,
			"status":   status,
			"error":    err.Error(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no token provided")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body fetchRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	robots, err := h.repo.ListOwnedBy(r.Context(), identity.UserID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "robots": robots})
}

func decodeRobotRequest(w http.ResponseWriter, r *http.Request) (robotRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body robotRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return robotRequest{}, false
	}

	body.RobotID = strings.TrimSpace(body.RobotID)
	if body.RobotID == "" {
		writeError(w, http.StatusBadRequest, "robotId is required")
		return robotRequest{}, false
	}

	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
