package camera

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

type aiDetection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

type aiResults struct {
	DetectionCount int           `json:"detection_count"`
	Detections     []aiDetection `json:"detections"`
}

type wireMessage struct {
	ImageID   string    `json:"image_id"`
	ImagePath string    `json:"image_path"`
	Timestamp float64   `json:"timestamp"`
	AIResults aiResults `json:"ai_results"`
}

// DecodeMessage normalizes a raw camera channel payload into a
// CameraDetection, per spec.md §4.D ("normalizes each message: image_id,
// ai_results.detection_count, ai_results.detections[].class_name/
// confidence, image_path, timestamp").
func DecodeMessage(payload []byte) (models.CameraDetection, error) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.CameraDetection{}, fmt.Errorf("camera: decode: %w", err)
	}
	if msg.ImageID == "" {
		return models.CameraDetection{}, fmt.Errorf("camera: missing image_id")
	}

	types := make([]string, 0, len(msg.AIResults.Detections))
	maxConfidence := 0.0
	for _, d := range msg.AIResults.Detections {
		types = append(types, d.ClassName)
		if d.Confidence > maxConfidence {
			maxConfidence = d.Confidence
		}
	}

	return models.CameraDetection{
		ImageID:           msg.ImageID,
		Timestamp:         secondsToTime(msg.Timestamp),
		VehicleCount:      msg.AIResults.DetectionCount,
		VehicleTypes:      types,
		PrimaryConfidence: maxConfidence,
		ImagePath:         msg.ImagePath,
	}, nil
}

func secondsToTime(epochSeconds float64) time.Time {
	if epochSeconds == 0 {
		return time.Now()
	}
	whole := int64(epochSeconds)
	frac := epochSeconds - float64(whole)
	return time.Unix(whole, int64(frac*float64(time.Second)))
}
