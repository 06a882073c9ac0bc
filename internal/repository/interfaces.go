package repository

import (
	"gridwatch/internal/model"
)

// OverrideRepository defines the interface for persisted operator pins.
type OverrideRepository interface {
	// Save inserts or replaces the pin for a device.
	Save(o *model.Override) error

	// GetAll returns every pin ordered by device id.
	GetAll() ([]model.Override, error)

	// Delete removes the pin for a device; a missing pin is not an error.
	Delete(deviceID int) error
	DeleteAll() error
}
