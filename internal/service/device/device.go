package device

import (
	"sort"
)

// Device is one networked indicator, driving grid cell ID-1.
type Device struct {
	ID      int
	Address string
}

// Registry is the fixed set of configured devices.
type Registry struct {
	devices []Device
	byID    map[int]Device
}

// NewRegistry builds a registry from an id -> address map.
func NewRegistry(addresses map[int]string) *Registry {
	r := &Registry{
		devices: make([]Device, 0, len(addresses)),
		byID:    make(map[int]Device, len(addresses)),
	}
	for id, address := range addresses {
		d := Device{ID: id, Address: address}
		r.devices = append(r.devices, d)
		r.byID[id] = d
	}
	sort.Slice(r.devices, func(i, j int) bool { return r.devices[i].ID < r.devices[j].ID })
	return r
}

// All returns every device ordered by id.
func (r *Registry) All() []Device {
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Lookup returns the device with the given id.
func (r *Registry) Lookup(id int) (Device, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

// CommandName returns the endpoint name for a state.
func CommandName(state bool) string {
	if state {
		return "on"
	}
	return "off"
}
