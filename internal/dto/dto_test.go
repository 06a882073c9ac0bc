package dto

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwatch/internal/service/device"
	"gridwatch/internal/service/grid"
	"gridwatch/internal/service/state"
)

func TestOverrideRequest_DecodeAndValidate(t *testing.T) {
	spec := grid.Spec{Rows: 2, Cols: 2}

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{"pin on", `{"device_id": 3, "state": true}`, true},
		{"pin off", `{"device_id": 1, "state": false}`, true},
		{"clear", `{"device_id": 4, "clear": true}`, true},
		{"missing state", `{"device_id": 3}`, false},
		{"missing device", `{"state": true}`, false},
		{"device zero", `{"device_id": 0, "state": true}`, false},
		{"device too large", `{"device_id": 5, "state": true}`, false},
		{"state and clear", `{"device_id": 2, "state": true, "clear": true}`, false},
		{"state not bool", `{"device_id": 2, "state": "on"}`, false},
		{"unknown field", `{"device_id": 2, "state": true, "color": "red"}`, false},
		{"malformed", `{"device_id": `, false},
		{"trailing data", `{"device_id": 2, "state": true} {}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeOverrideRequest(strings.NewReader(tt.body))
			if err == nil {
				err = req.Validate(spec)
			}
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOverride)
			}
		})
	}
}

func TestNewStatusResponse(t *testing.T) {
	on, off := true, false
	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	snap := state.Snapshot{
		Activity:  grid.Activity{true, false, false, false},
		Presence:  true,
		Overrides: map[int]bool{3: true},
		Devices: []state.DeviceState{
			{ID: 1, Commanded: &on, Last: &state.DispatchOutcome{State: true, OK: false, At: at}},
			{ID: 2},
			{ID: 3, Commanded: &on, Pinned: &on, Last: &state.DispatchOutcome{State: true, OK: true, At: at}},
			{ID: 4, Commanded: &off},
		},
		Phase:     state.PhaseRunning,
		UpdatedAt: at,
	}
	devices := device.NewRegistry(map[int]string{1: "http://a", 2: "http://b", 3: "http://c", 4: "http://d"})

	resp := NewStatusResponse(snap, grid.Spec{Rows: 2, Cols: 2}, devices)

	want := StatusResponse{
		GridRows:        2,
		GridCols:        2,
		GridActivity:    map[string]bool{"0": true, "1": false, "2": false, "3": false},
		HumanDetected:   true,
		ManualOverrides: map[string]bool{"3": true},
		Devices: []DeviceStatus{
			{ID: 1, Address: "http://a", Commanded: &on, LastDispatchOK: &off},
			{ID: 2, Address: "http://b"},
			{ID: 3, Address: "http://c", Commanded: &on, LastDispatchOK: &on, Pinned: &on},
			{ID: 4, Address: "http://d", Commanded: &off},
		},
		Phase:     state.PhaseRunning,
		UpdatedAt: &at,
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("NewStatusResponse mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusResponse_JSONBeforeFirstTick(t *testing.T) {
	resp := NewStatusResponse(state.Snapshot{Phase: state.PhaseConnecting}, grid.Spec{Rows: 1, Cols: 1}, device.NewRegistry(nil))

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"grid_rows": 1,
		"grid_cols": 1,
		"grid_activity": {},
		"human_detected": false,
		"manual_overrides": {},
		"devices": [],
		"phase": "connecting",
		"updated_at": null
	}`, string(data))
}
