package sqlite

import (
	"fmt"

	"gridwatch/internal/model"
)

// OverrideRepository implements repository.OverrideRepository for SQLite.
type OverrideRepository struct {
	db *DB
}

// NewOverrideRepository creates a new SQLite override repository.
func NewOverrideRepository(db *DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Save inserts the pin or replaces the existing one for the same device.
func (r *OverrideRepository) Save(o *model.Override) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO overrides (device_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, o.DeviceID, o.State, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save override for device %d: %w", o.DeviceID, err)
	}
	return nil
}

// GetAll retrieves every pin ordered by device id.
func (r *OverrideRepository) GetAll() ([]model.Override, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT device_id, state, updated_at
		FROM overrides ORDER BY device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []model.Override
	for rows.Next() {
		var o model.Override
		if err := rows.Scan(&o.DeviceID, &o.State, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, o)
	}

	return overrides, rows.Err()
}

// Delete removes the pin for deviceID.
func (r *OverrideRepository) Delete(deviceID int) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec("DELETE FROM overrides WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("failed to delete override for device %d: %w", deviceID, err)
	}
	return nil
}

// DeleteAll removes every pin.
func (r *OverrideRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec("DELETE FROM overrides"); err != nil {
		return fmt.Errorf("failed to delete overrides: %w", err)
	}
	return nil
}
