package camera

import (
	"sync"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

// Ring is the bounded camera-detection buffer of spec.md §4.D/§5: single
// writer (the Ingestor), single reader (the Correlator), short-held
// mutex rather than a lock-free structure since capacity is small
// (default 100) and contention is low.
type Ring struct {
	mu       sync.Mutex
	capacity int
	items    []models.CameraDetection // oldest first
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring{capacity: capacity}
}

// Push appends d, dropping the oldest entry once at capacity.
func (r *Ring) Push(d models.CameraDetection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
	if len(r.items) > r.capacity {
		r.items = r.items[len(r.items)-r.capacity:]
	}
}

// Snapshot returns a newest-first copy, safe for the caller to range
// over without holding the Ring's lock.
func (r *Ring) Snapshot() []models.CameraDetection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CameraDetection, len(r.items))
	for i, d := range r.items {
		out[len(r.items)-1-i] = d
	}
	return out
}
