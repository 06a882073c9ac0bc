package dto

import (
	"strconv"
	"time"

	"gridwatch/internal/service/device"
	"gridwatch/internal/service/grid"
	"gridwatch/internal/service/state"
)

// DeviceStatus describes one device in a StatusResponse. Nil fields mean
// "not known yet".
type DeviceStatus struct {
	ID             int    `json:"id"`
	Address        string `json:"address"`
	Commanded      *bool  `json:"commanded"`
	LastDispatchOK *bool  `json:"last_dispatch_ok"`
	Pinned         *bool  `json:"pinned"`
}

// StatusResponse is the body of GET /api/status and of every websocket
// status message.
type StatusResponse struct {
	GridRows        int             `json:"grid_rows"`
	GridCols        int             `json:"grid_cols"`
	GridActivity    map[string]bool `json:"grid_activity"`
	HumanDetected   bool            `json:"human_detected"`
	ManualOverrides map[string]bool `json:"manual_overrides"`
	Devices         []DeviceStatus  `json:"devices"`
	Phase           state.Phase     `json:"phase"`
	UpdatedAt       *time.Time      `json:"updated_at"`
}

// NewStatusResponse builds the API view of snap. Map keys are cell
// indices for grid_activity and device ids for manual_overrides.
func NewStatusResponse(snap state.Snapshot, spec grid.Spec, devices *device.Registry) StatusResponse {
	resp := StatusResponse{
		GridRows:        spec.Rows,
		GridCols:        spec.Cols,
		GridActivity:    make(map[string]bool, len(snap.Activity)),
		HumanDetected:   snap.Presence,
		ManualOverrides: make(map[string]bool, len(snap.Overrides)),
		Devices:         make([]DeviceStatus, 0, len(snap.Devices)),
		Phase:           snap.Phase,
	}

	for index, active := range snap.Activity {
		resp.GridActivity[strconv.Itoa(index)] = active
	}
	for id, pinned := range snap.Overrides {
		resp.ManualOverrides[strconv.Itoa(id)] = pinned
	}
	for _, ds := range snap.Devices {
		status := DeviceStatus{ID: ds.ID, Commanded: ds.Commanded, Pinned: ds.Pinned}
		if d, ok := devices.Lookup(ds.ID); ok {
			status.Address = d.Address
		}
		if ds.Last != nil {
			ok := ds.Last.OK
			status.LastDispatchOK = &ok
		}
		resp.Devices = append(resp.Devices, status)
	}
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}
