// Package reconcile turns grid activity, presence and operator pins into
// per-device commands.
package reconcile

import (
	"gridwatch/internal/service/grid"
)

// Decision is the outcome for one device in one tick.
type Decision struct {
	DeviceID int
	Desired  bool
	Pinned   bool
	// Dispatch is set when Desired differs from the last commanded state
	// or no command has been sent yet.
	Dispatch bool
}

// Result lists decisions in device id order. Devices with no decision this
// tick (unpinned while the grid is undefined) are absent.
type Result struct {
	Decisions []Decision
}

// Pending returns the decisions that need a command.
func (r Result) Pending() []Decision {
	var pending []Decision
	for _, d := range r.Decisions {
		if d.Dispatch {
			pending = append(pending, d)
		}
	}
	return pending
}

// Desired returns the desired state per device id.
func (r Result) Desired() map[int]bool {
	desired := make(map[int]bool, len(r.Decisions))
	for _, d := range r.Decisions {
		desired[d.DeviceID] = d.Desired
	}
	return desired
}

// Reconciler computes desired device states for a fixed grid.
type Reconciler struct {
	spec grid.Spec
}

// NewReconciler creates a Reconciler for spec.
func NewReconciler(spec grid.Spec) *Reconciler {
	return &Reconciler{spec: spec}
}

// Reconcile decides every device's state. A pinned device takes its
// override value and nothing else is evaluated for it. Any other device is
// on when its cell is active or presence is set; presence applies to the
// whole frame. When activity is undefined only pinned devices are decided.
func (r *Reconciler) Reconcile(activity grid.Activity, presence bool, overrides, lastKnown map[int]bool) Result {
	defined := activity.Defined() && len(activity) == r.spec.Cells()

	result := Result{Decisions: make([]Decision, 0, r.spec.Cells())}
	for id := 1; id <= r.spec.Cells(); id++ {
		decision := Decision{DeviceID: id}

		if pinned, ok := overrides[id]; ok {
			decision.Desired = pinned
			decision.Pinned = true
		} else if defined {
			index, _ := r.spec.CellIndex(id)
			decision.Desired = activity.Active(index) || presence
		} else {
			continue
		}

		last, known := lastKnown[id]
		decision.Dispatch = !known || last != decision.Desired
		result.Decisions = append(result.Decisions, decision)
	}
	return result
}
