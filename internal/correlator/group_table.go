package correlator

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

const maxGroups = 100

// GroupTable is the in-memory VehicleGroup table of spec.md §3/§4.E:
// mutated only by the Correlator worker (no external locking needed for
// correctness, but this type is still safe for concurrent use since the
// sweep and consume loops run on the same goroutine in practice). Bounded
// to maxGroups entries, LRU-evicted, grounded on the teacher's own use
// of hashicorp/golang-lru/v2 for capacity-bounded caches.
type GroupTable struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *models.VehicleGroup]
}

func NewGroupTable() *GroupTable {
	cache, _ := lru.New[string, *models.VehicleGroup](maxGroups)
	return &GroupTable{cache: cache}
}

// Add inserts a newly created group, evicting the least-recently-used
// entry if the table is at capacity.
func (t *GroupTable) Add(g *models.VehicleGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(g.GroupID, g)
}

// Match walks active groups newest-first by latest_timestamp and returns
// the first one satisfying spec.md §4.E's three grouping conditions for
// detection observed at now. Reports (nil, false) if none match.
func (t *GroupTable) Match(detection models.VehicleDetection, now time.Time, window time.Duration, speedVariationMPH float64) (*models.VehicleGroup, bool) {
	t.mu.Lock()
	groups := append([]*models.VehicleGroup(nil), t.cache.Values()...)
	t.mu.Unlock()

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].LatestTimestamp.After(groups[j].LatestTimestamp)
	})

	for _, g := range groups {
		if matches(detection, g, now, window, speedVariationMPH) {
			t.mu.Lock()
			t.cache.Get(g.GroupID) // refresh LRU recency
			t.mu.Unlock()
			return g, true
		}
	}
	return nil, false
}

func matches(d models.VehicleDetection, g *models.VehicleGroup, now time.Time, window time.Duration, speedVariationMPH float64) bool {
	if now.Sub(g.LatestTimestamp) > window {
		return false
	}
	if models.Abs(models.Abs(d.SpeedMPH)-models.Abs(g.LatestSpeedMPH)) > speedVariationMPH {
		return false
	}
	return sign(d.SpeedMPS) == sign(g.LatestSpeedMPS)
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}

// Sweep evicts groups whose latest_timestamp is older than
// now-maxAge (2× grouping window per spec.md §4.E), returning the count
// removed.
func (t *GroupTable) Sweep(now time.Time, maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, key := range t.cache.Keys() {
		g, ok := t.cache.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(g.LatestTimestamp) > maxAge {
			t.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked groups.
func (t *GroupTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}
