// Package state owns everything the control loop and the HTTP API share.
// All access goes through one RWMutex so a status read never mixes two ticks.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gridwatch/internal/service/grid"
)

// ErrUnknownDevice is returned for device ids outside the grid.
var ErrUnknownDevice = errors.New("unknown device")

// Phase is the control loop's connection state.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseRunning    Phase = "running"
	PhaseRecovering Phase = "recovering"
	PhaseStopped    Phase = "stopped"
)

// DispatchOutcome records the last command attempted for a device.
type DispatchOutcome struct {
	State bool
	OK    bool
	At    time.Time
}

// DeviceState is a device's view inside a Snapshot.
type DeviceState struct {
	ID        int
	Commanded *bool // last state recorded as sent, nil before the first command
	Pinned    *bool
	Last      *DispatchOutcome
}

// Snapshot is a consistent copy of the shared state.
type Snapshot struct {
	Activity  grid.Activity
	Presence  bool
	Overrides map[int]bool
	Devices   []DeviceState
	Phase     Phase
	UpdatedAt time.Time
}

// Store is the single owner of shared state.
type Store struct {
	mu        sync.RWMutex
	spec      grid.Spec
	activity  grid.Activity
	presence  bool
	overrides map[int]bool
	lastKnown map[int]bool
	outcomes  map[int]DispatchOutcome
	phase     Phase
	updatedAt time.Time
	now       func() time.Time
}

// NewStore creates an empty Store for spec.
func NewStore(spec grid.Spec) *Store {
	return &Store{
		spec:      spec,
		overrides: make(map[int]bool),
		lastKnown: make(map[int]bool),
		outcomes:  make(map[int]DispatchOutcome),
		phase:     PhaseConnecting,
		now:       time.Now,
	}
}

// Spec returns the grid the store was built for.
func (s *Store) Spec() grid.Spec {
	return s.spec
}

// Publish records a tick's result. An undefined grid (a tick that only
// stored a reference frame) leaves the last computed grid in place, so the
// grid stays nil until the first one is computed.
func (s *Store) Publish(activity grid.Activity, presence bool) {
	var copied grid.Activity
	if activity != nil {
		copied = make(grid.Activity, len(activity))
		copy(copied, activity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if copied != nil {
		s.activity = copied
	}
	s.presence = presence
	s.updatedAt = s.now()
}

// Inputs returns copies of the override set and last-known states for one
// reconciliation.
func (s *Store) Inputs() (overrides, lastKnown map[int]bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.overrides), copyMap(s.lastKnown)
}

// SetOverride pins device id to state.
func (s *Store) SetOverride(id int, state bool) error {
	if !s.spec.ValidDevice(id) {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[id] = state
	return nil
}

// ClearOverride unpins device id and reports whether it was pinned. The
// device's last commanded state is left alone.
func (s *Store) ClearOverride(id int) (bool, error) {
	if !s.spec.ValidDevice(id) {
		return false, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pinned := s.overrides[id]
	delete(s.overrides, id)
	return pinned, nil
}

// RecordDispatch stores the outcome of a command attempt. When commit is
// set the attempted state also becomes the device's last-known state.
func (s *Store) RecordDispatch(id int, state, ok, commit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[id] = DispatchOutcome{State: state, OK: ok, At: s.now()}
	if commit {
		s.lastKnown[id] = state
	}
}

// SetPhase records the control loop phase.
func (s *Store) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// Phase returns the control loop phase.
func (s *Store) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Snapshot returns a consistent copy of everything the API exposes.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Presence:  s.presence,
		Overrides: copyMap(s.overrides),
		Phase:     s.phase,
		UpdatedAt: s.updatedAt,
		Devices:   make([]DeviceState, 0, s.spec.Cells()),
	}
	if s.activity != nil {
		snap.Activity = make(grid.Activity, len(s.activity))
		copy(snap.Activity, s.activity)
	}

	for id := 1; id <= s.spec.Cells(); id++ {
		ds := DeviceState{ID: id}
		if v, ok := s.lastKnown[id]; ok {
			ds.Commanded = &v
		}
		if v, ok := s.overrides[id]; ok {
			ds.Pinned = &v
		}
		if o, ok := s.outcomes[id]; ok {
			ds.Last = &o
		}
		snap.Devices = append(snap.Devices, ds)
	}
	return snap
}

func copyMap(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
