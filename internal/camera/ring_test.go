package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

func TestRing_DropsOldestAtCapacity(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Push(models.CameraDetection{ImageID: string(rune('A' + i))})
	}

	snap := r.Snapshot()
	assert.Len(t, snap, 3)
	assert.Equal(t, "E", snap[0].ImageID) // newest first
	assert.Equal(t, "D", snap[1].ImageID)
	assert.Equal(t, "C", snap[2].ImageID)
}

func TestRing_EmptySnapshot(t *testing.T) {
	r := NewRing(100)
	assert.Empty(t, r.Snapshot())
}
