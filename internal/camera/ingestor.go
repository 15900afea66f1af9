// Package camera is the Camera Ingestor of spec.md §4.D. It does not
// own the camera itself: it subscribes to the external AI process's
// pub/sub channel, normalizes each message, and feeds a bounded ring
// the Correlator reads. Grounded on the teacher's
// internal/nvr/nats_publisher.go (reversed: subscribe instead of
// publish) for the NATS idiom, generalized to a Redis pub/sub transport
// matching the rest of the Event Bus since the camera process already
// speaks Redis in original_source/edge_processing/redis_models.py.
package camera

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/metrics"
)

const channelCameraDetections = "camera_detections"

// Ingestor subscribes to the camera channel and normalizes every
// message into the shared Ring.
type Ingestor struct {
	b    *bus.Bus
	ring *Ring
	log  *logrus.Entry
}

func NewIngestor(b *bus.Bus, ring *Ring, log *logrus.Entry) *Ingestor {
	return &Ingestor{b: b, ring: ring, log: log}
}

// Run is the Worker interface for internal/supervisor.
func (in *Ingestor) Run(ctx context.Context) {
	sub := in.b.SubscribePubSub(ctx, channelCameraDetections)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			in.handleMessage(msg.Payload)
		}
	}
}

func (in *Ingestor) handleMessage(payload string) {
	detection, err := DecodeMessage([]byte(payload))
	if err != nil {
		metrics.CameraDecodeErrors.Inc()
		in.log.WithError(err).Debug("camera message failed to decode")
		return
	}
	metrics.CameraEventsReceived.Inc()
	in.ring.Push(detection)
}
