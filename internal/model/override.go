package model

import "time"

// Override is a persisted operator pin.
type Override struct {
	DeviceID  int       `json:"device_id"`
	State     bool      `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}
