package robot

// Robot rows are seeded out-of-band when a unit is manufactured; the service
// only ever claims, releases and mutates them.
type Robot struct {
	RobotID        string   `json:"robot_id"`
	OwnedByUserID  *string  `json:"-"`
	Name           string   `json:"name"`
	Location       *string  `json:"location,omitempty"`
	Status         string   `json:"status"`
	StartTimestamp *float64 `json:"start_timestamp,omitempty"`
	Duration       *float64 `json:"duration,omitempty"`
}

// Status values are an open set. The device is the authority over its
// physical state, so anything it reports is stored as-is.
const (
	StatusOff      = "off"
	StatusRoaming  = "roaming"
	StatusStopping = "stopping"
)
