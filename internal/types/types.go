// Package types provides shared type definitions for the application.
package types

import "time"

// Tracker status values reported by the tracker host.
const (
	StatusRunning = "Running"
	StatusStopped = "Stopped"
)

// Color is a sprite or background color in percent components.
type Color struct {
	Alpha int `json:"alpha"`
	Red   int `json:"red"`
	Green int `json:"green"`
	Blue  int `json:"blue"`
}

// Indications are the per-row flags shown by the overview.
type Indications struct {
	Targeting          bool `json:"targeting"`
	TargetedByMe       bool `json:"targeted_by_me"`
	IsJammingMe        bool `json:"is_jamming_me"`
	IsWarpDisruptingMe bool `json:"is_warp_disrupting_me"`
}

// OverviewEntry is one row of the in-game overview panel.
// Only ObjectName, ObjectType and IsPlayer drive detection; the rest is carried through.
type OverviewEntry struct {
	ObjectName string `json:"object_name"`
	ObjectType string `json:"object_type"`
	IsPlayer   bool   `json:"is_player"`

	TextsLeftToRight          []string          `json:"texts_left_to_right,omitempty"`
	CellsTexts                map[string]string `json:"cells_texts,omitempty"`
	ObjectDistance            string            `json:"object_distance,omitempty"`
	ObjectDistanceInMeters    *int              `json:"object_distance_in_meters,omitempty"`
	ObjectAlliance            string            `json:"object_alliance,omitempty"`
	IconSpriteColorPercent    *Color            `json:"icon_sprite_color_percent,omitempty"`
	NamesUnderSpaceObjectIcon []string          `json:"names_under_space_object_icon,omitempty"`
	BgColorFillsPercent       []Color           `json:"bg_color_fills_percent,omitempty"`
	RightAlignedIconsHints    []string          `json:"right_aligned_icons_hints,omitempty"`
	CommonIndications         Indications       `json:"common_indications"`
	OpacityPercent            *int              `json:"opacity_percent,omitempty"`
}

// OverviewWindow is one overview panel; a client may have several open.
type OverviewWindow struct {
	Entries []OverviewEntry `json:"entries"`
}

// GeneralWindow is the parsed UI tree of one game client.
type GeneralWindow struct {
	OverviewWindows []OverviewWindow `json:"overview_windows"`
}

// UiStatus is a single frame sent by the tracker host for one process.
type UiStatus struct {
	ProcessID     int            `json:"process_id"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	GeneralWindow *GeneralWindow `json:"general_window,omitempty"`
	MsProcessing  int            `json:"ms_processing"`
}

// ProcessStatus is the state of a tracked process as shown to the frontend.
type ProcessStatus struct {
	PID          int       `json:"pid"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	MsProcessing int       `json:"msProcessing"`
	Entries      int       `json:"entries"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Detection Types
// ─────────────────────────────────────────────────────────────────────────────

// DetectedEntity is the summary of an entry kept in detection history.
type DetectedEntity struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsPlayer bool   `json:"isPlayer"`
	Alliance string `json:"alliance,omitempty"`
	Distance string `json:"distance,omitempty"`
}

// Detection is a change of the filtered overview set.
type Detection struct {
	ID       string           `json:"id"`
	At       time.Time        `json:"at"`
	Entities []DetectedEntity `json:"entities"`
	Alerted  bool             `json:"alerted"` // false when suppressed by cooldown
}

// NewDetectedEntity summarizes an overview entry.
func NewDetectedEntity(e OverviewEntry) DetectedEntity {
	return DetectedEntity{
		Name:     e.ObjectName,
		Type:     e.ObjectType,
		IsPlayer: e.IsPlayer,
		Alliance: e.ObjectAlliance,
		Distance: e.ObjectDistance,
	}
}

// Settings is the detection configuration exposed to the frontend.
type Settings struct {
	Whitelist       []string `json:"whitelist"`
	OnlyPlayers     bool     `json:"onlyPlayers"`
	AlertCooldownMs int64    `json:"alertCooldownMs"`
	AlertSound      string   `json:"alertSound"`
	ListenAddr      string   `json:"listenAddr"`
	HistoryEnabled  bool     `json:"historyEnabled"`
}

// AlertStatus describes the alert state for the overlay.
type AlertStatus struct {
	Muted         bool   `json:"muted"`
	LastAlert     int64  `json:"lastAlert"`     // Unix milliseconds, 0 if never
	LastAlertText string `json:"lastAlertText"` // e.g. "2 minutes ago"
}
