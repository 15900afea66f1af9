package correlator

import (
	"sync"
	"time"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

// HourlyRollup is a running, in-memory aggregate for one hour bucket,
// per spec.md §4.E step 9 ("update hourly rollups: vehicle count,
// per-alert-level counts, running mean speed").
type HourlyRollup struct {
	Hour          time.Time
	VehicleCount  int
	AlertCounts   map[models.AlertLevel]int
	meanSpeedMPH  float64
	speedSampleN  int
}

// MeanSpeedMPH returns the running mean absolute speed for the bucket.
func (r *HourlyRollup) MeanSpeedMPH() float64 {
	return r.meanSpeedMPH
}

// RollupTracker keeps one HourlyRollup per hour bucket in memory; it is
// not persisted here (the Persister owns daily_summary), so it only
// needs to survive for as long as the process runs.
type RollupTracker struct {
	mu      sync.Mutex
	buckets map[time.Time]*HourlyRollup
}

func NewRollupTracker() *RollupTracker {
	return &RollupTracker{buckets: make(map[time.Time]*HourlyRollup)}
}

// Record folds one consolidated detection into its hour bucket.
func (t *RollupTracker) Record(ts time.Time, level models.AlertLevel, absSpeedMPH float64) {
	hour := ts.Truncate(time.Hour)

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[hour]
	if !ok {
		b = &HourlyRollup{Hour: hour, AlertCounts: make(map[models.AlertLevel]int)}
		t.buckets[hour] = b
	}

	b.VehicleCount++
	b.AlertCounts[level]++
	b.speedSampleN++
	b.meanSpeedMPH += (absSpeedMPH - b.meanSpeedMPH) / float64(b.speedSampleN)
}

// EvictOlderThan drops every bucket whose hour is before cutoff,
// mirroring the Persister's DeleteOlderThan retention sweep so the
// in-memory rollup table doesn't grow one entry per hour for the life
// of a long-running edge process.
func (t *RollupTracker) EvictOlderThan(cutoff time.Time) int {
	cutoff = cutoff.Truncate(time.Hour)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for hour := range t.buckets {
		if hour.Before(cutoff) {
			delete(t.buckets, hour)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of the bucket for hour, or nil if no records
// have landed in it yet.
func (t *RollupTracker) Snapshot(hour time.Time) *HourlyRollup {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[hour.Truncate(time.Hour)]
	if !ok {
		return nil
	}
	cp := *b
	cp.AlertCounts = make(map[models.AlertLevel]int, len(b.AlertCounts))
	for k, v := range b.AlertCounts {
		cp.AlertCounts[k] = v
	}
	return &cp
}
