package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gridwatch/internal/service/grid"
)

// ErrInvalidOverride is returned for override requests that must not
// change any state.
var ErrInvalidOverride = errors.New("invalid override request")

// OverrideRequest is the body of POST /api/override. Either State or
// Clear must be given.
type OverrideRequest struct {
	DeviceID *int  `json:"device_id"`
	State    *bool `json:"state,omitempty"`
	Clear    bool  `json:"clear,omitempty"`
}

// DecodeOverrideRequest parses a request body, rejecting unknown fields
// and trailing data.
func DecodeOverrideRequest(r io.Reader) (OverrideRequest, error) {
	var req OverrideRequest

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return OverrideRequest{}, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	if decoder.More() {
		return OverrideRequest{}, fmt.Errorf("%w: unexpected data after JSON object", ErrInvalidOverride)
	}
	return req, nil
}

// Validate checks the request against the configured grid.
func (r OverrideRequest) Validate(spec grid.Spec) error {
	if r.DeviceID == nil {
		return fmt.Errorf("%w: device_id is required", ErrInvalidOverride)
	}
	if !spec.ValidDevice(*r.DeviceID) {
		return fmt.Errorf("%w: device_id %d is outside 1..%d", ErrInvalidOverride, *r.DeviceID, spec.Cells())
	}
	if r.Clear && r.State != nil {
		return fmt.Errorf("%w: state and clear are mutually exclusive", ErrInvalidOverride)
	}
	if !r.Clear && r.State == nil {
		return fmt.Errorf("%w: state is required", ErrInvalidOverride)
	}
	return nil
}

// OverrideResponse echoes the applied change.
type OverrideResponse struct {
	Message  string `json:"message"`
	DeviceID int    `json:"device_id"`
	State    *bool  `json:"state"`
	Cleared  bool   `json:"cleared"`
}

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error string `json:"error"`
}
