package app

import (
	"go.evewatch.dev/evewatch/alert"
	"go.evewatch.dev/evewatch/internal/types"
)

// Event names for frontend communication.
const (
	EventUiStatus      = "ui-status"
	EventEnemyDetected = "enemy-detected"
	EventEnemyAlert    = alert.EventAlert
	EventAlertMuted    = "alert-muted"
)

// UiStatusEvent is emitted after every tracker frame.
type UiStatusEvent struct {
	Processes []types.ProcessStatus `json:"processes"`
	Tracked   int                   `json:"tracked"` // entries across all processes
}
