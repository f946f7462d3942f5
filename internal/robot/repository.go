package robot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotClaimable means the conditional claim update matched no row: the
// robot is gone or someone else got there first.
var ErrNotClaimable = errors.New("robot not claimable")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByRobotID(ctx context.Context, robotID string) (Robot, error) {
	var robot Robot
	var owner, location sql.NullString
	var startTS, duration sql.NullFloat64

	err := r.db.QueryRowContext(ctx, `
		SELECT robot_id, owned_by_user_id, name, location, status, start_timestamp, duration
		FROM robots
		WHERE robot_id = $1
	`, robotID).Scan(&robot.RobotID, &owner, &robot.Name, &location, &robot.Status, &startTS, &duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Robot{}, err
		}
		return Robot{}, fmt.Errorf("query robot: %w", err)
	}

	if owner.Valid {
		robot.OwnedByUserID = &owner.String
	}
	if location.Valid {
		robot.Location = &location.String
	}
	if startTS.Valid {
		robot.StartTimestamp = &startTS.Float64
	}
	if duration.Valid {
		robot.Duration = &duration.Float64
	}

	return robot, nil
}

// Claim only succeeds on a currently unowned robot; the WHERE clause is the
// guard against two users claiming concurrently.
func (r *Repository) Claim(ctx context.Context, robotID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE robots
		SET owned_by_user_id = $2, updated_at = NOW()
		WHERE robot_id = $1 AND owned_by_user_id IS NULL
	`, robotID, userID)
	if err != nil {
		return fmt.Errorf("claim robot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotClaimable
	}

	return nil
}

func (r *Repository) Release(ctx context.Context, robotID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE robots
		SET owned_by_user_id = NULL, updated_at = NOW()
		WHERE robot_id = $1
	`, robotID)
	if err != nil {
		return fmt.Errorf("release robot: %w", err)
	}

	return nil
}

func (r *Repository) Rename(ctx context.Context, robotID, name string, location *string) error {
	var err error
	if location != nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE robots
			SET name = $2, location = $3, updated_at = NOW()
			WHERE robot_id = $1
		`, robotID, name, *location)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE robots
			SET name = $2, updated_at = NOW()
			WHERE robot_id = $1
		`, robotID, name)
	}
	if err != nil {
		return fmt.Errorf("rename robot: %w", err)
	}

	return nil
}

func (r *Repository) MarkStarted(ctx context.Context, robotID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE robots
		SET status = $2, start_timestamp = EXTRACT(EPOCH FROM NOW()), duration = NULL, updated_at = NOW()
		WHERE robot_id = $1
	`, robotID, status)
	if err != nil {
		return fmt.Errorf("mark robot started: %w", err)
	}

	return nil
}

func (r *Repository) MarkStopped(ctx context.Context, robotID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE robots
		SET status = $2,
			duration = CASE WHEN start_timestamp IS NOT NULL THEN EXTRACT(EPOCH FROM NOW()) - start_timestamp END,
			start_timestamp = NULL,
			updated_at = NOW()
		WHERE robot_id = $1
	`, robotID, status)
	if err != nil {
		return fmt.Errorf("mark robot stopped: %w", err)
	}

	return nil
}

// UpdateStatus is the device-reported path: last write wins, no transition
// legality check.
func (r *Repository) UpdateStatus(ctx context.Context, robotID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE robots
		SET status = $2, updated_at = NOW()
		WHERE robot_id = $1
	`, robotID, status)
	if err != nil {
		return fmt.Errorf("update robot status: %w", err)
	}

	return nil
}

func (r *Repository) ListOwnedBy(ctx context.Context, userID string) ([]Robot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT robot_id, name, location, status
		FROM robots
		WHERE owned_by_user_id = $1
		ORDER BY name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query robots by owner: %w", err)
	}
	defer rows.Close()

	robots := make([]Robot, 0)
	for rows.Next() {
		var robot Robot
		var location sql.NullString
		if err := rows.Scan(&robot.RobotID, &robot.Name, &location, &robot.Status); err != nil {
			return nil, fmt.Errorf("scan robot: %w", err)
		}
		if location.Valid {
			robot.Location = &location.String
		}
		robots = append(robots, robot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate robots: %w", err)
	}

	return robots, nil
}
