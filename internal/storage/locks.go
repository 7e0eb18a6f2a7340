package storage

import "sync"

// deviceLocks hands out one mutex per device id so index writes for a device
// serialize while different devices proceed in parallel. Entries are never
// removed; the map grows with the number of distinct devices, which stays
// small in practice.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*sync.Mutex)}
}

// forDevice returns the mutex for a device id, creating it on first use.
func (d *deviceLocks) forDevice(deviceID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.locks[deviceID]
	if !ok {
		m = &sync.Mutex{}
		d.locks[deviceID] = m
	}
	return m
}
