package device

import (
	"sort"
	"strings"
	"sync"
)

// Directory is the process-lifetime registry of discovered endpoints.
// All reads return value snapshots; callers never see shared state.
type Directory struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{devices: make(map[string]Device)}
}

// Upsert inserts or replaces a device by id. Idempotent.
func (d *Directory) Upsert(dev Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.ID] = dev
}

// Get returns the device with the given id.
func (d *Directory) Get(id string) (Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[id]
	return dev, ok
}

// List returns all devices sorted by friendly name, with a
// case-insensitive id tiebreak so the order is stable.
func (d *Directory) List() []Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return strings.ToLower(out[i].ID) < strings.ToLower(out[j].ID)
	})
	return out
}

// Clear removes all entries. Used by refresh only; an active session keeps
// its own copy of the target device and is unaffected.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = make(map[string]Device)
}

// Len returns the number of known devices.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.devices)
}
