package services

import (
	"sort"
	"sync"

	"iot-anomaly/internal/models"
)

// StatusBoard holds the latest detector status of every device. It is
// written by the detection loop and read by the HTTP API.
type StatusBoard struct {
	mu       sync.RWMutex
	statuses map[string]models.DeviceStatus
}

// NewStatusBoard creates an empty board
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{statuses: make(map[string]models.DeviceStatus)}
}

// Update replaces the status of st.DeviceID
func (b *StatusBoard) Update(st models.DeviceStatus) {
	b.mu.Lock()
	b.statuses[st.DeviceID] = st
	b.mu.Unlock()
}

// Get returns the last status of a device
func (b *StatusBoard) Get(deviceID string) (models.DeviceStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.statuses[deviceID]
	return st, ok
}

// List returns all statuses ordered by device ID
func (b *StatusBoard) List() []models.DeviceStatus {
	b.mu.RLock()
	out := make([]models.DeviceStatus, 0, len(b.statuses))
	for _, st := range b.statuses {
		out = append(out, st)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
