// Package overview parses tracker frames into overview entries.
package overview

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/text/unicode/norm"

	"go.evewatch.dev/evewatch/internal/types"
)

// ErrInvalidProcess is returned for frames without a usable process id.
var ErrInvalidProcess = errors.New("overview: invalid process id")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rawStatus mirrors types.UiStatus but keeps general_window undecoded:
// the tracker sends it either as an object or as a JSON-encoded string.
type rawStatus struct {
	ProcessID     int                 `json:"process_id"`
	Status        string              `json:"status"`
	Error         *string             `json:"error"`
	GeneralWindow jsoniter.RawMessage `json:"general_window"`
	MsProcessing  int                 `json:"ms_processing"`
}

// ParseStatus decodes and validates one tracker frame.
func ParseStatus(data []byte) (types.UiStatus, error) {
	var raw rawStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.UiStatus{}, fmt.Errorf("unmarshal status: %w", err)
	}
	if raw.ProcessID <= 0 {
		return types.UiStatus{}, fmt.Errorf("%w: %d", ErrInvalidProcess, raw.ProcessID)
	}

	status := types.UiStatus{
		ProcessID:    raw.ProcessID,
		Status:       raw.Status,
		MsProcessing: raw.MsProcessing,
	}
	if status.Status == "" {
		status.Status = types.StatusRunning
	}
	if raw.Error != nil {
		status.Error = *raw.Error
	}

	gw, err := parseGeneralWindow(raw.GeneralWindow)
	if err != nil {
		return types.UiStatus{}, fmt.Errorf("process %d: %w", raw.ProcessID, err)
	}
	status.GeneralWindow = gw
	return status, nil
}

func parseGeneralWindow(data []byte) (*types.GeneralWindow, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	// Double-encoded window: unwrap the string first.
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("unquote general window: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		data = []byte(s)
	}

	var gw types.GeneralWindow
	if err := json.Unmarshal(data, &gw); err != nil {
		return nil, fmt.Errorf("unmarshal general window: %w", err)
	}
	for i := range gw.OverviewWindows {
		for j := range gw.OverviewWindows[i].Entries {
			normalizeEntry(&gw.OverviewWindows[i].Entries[j])
		}
	}
	return &gw, nil
}

// Entries flattens all overview windows of a status, in window order.
// Returns nil when the frame carries no window.
func Entries(status types.UiStatus) []types.OverviewEntry {
	if status.GeneralWindow == nil {
		return nil
	}
	var n int
	for _, w := range status.GeneralWindow.OverviewWindows {
		n += len(w.Entries)
	}
	out := make([]types.OverviewEntry, 0, n)
	for _, w := range status.GeneralWindow.OverviewWindows {
		out = append(out, w.Entries...)
	}
	return out
}

// NormalizeName puts a character or type name into the form used for
// whitelist matching and comparison.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func normalizeEntry(e *types.OverviewEntry) {
	e.ObjectName = NormalizeName(e.ObjectName)
	e.ObjectType = NormalizeName(e.ObjectType)
}
