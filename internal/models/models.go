// Package models holds the wire/domain entities shared across every
// component of the pipeline (spec.md §3). They are plain immutable
// values; only VehicleGroup (owned exclusively by the Correlator) is
// ever mutated in place.
package models

import "time"

// AlertLevel classifies a radar detection by magnitude.
type AlertLevel string

const (
	AlertNoise  AlertLevel = "noise"
	AlertNormal AlertLevel = "normal"
	AlertLow    AlertLevel = "low"
	AlertHigh   AlertLevel = "high"
)

// ParseFormat records which of the priority-ordered radar line grammars
// produced a reading, for debugging and metrics.
type ParseFormat string

const (
	FormatCSVMagFirst ParseFormat = "csv_mag_speed"
	FormatJSON        ParseFormat = "json"
	FormatBareNumber  ParseFormat = "bare_number"
	FormatSpaceUnit   ParseFormat = "space_unit"
	FormatCommaPair   ParseFormat = "comma_pair"
)

// RadarReading is the immutable result of parsing one serial line.
// Lines that don't parse never become a RadarReading.
type RadarReading struct {
	MonotonicNs int64
	WallTime    time.Time
	SpeedMPH    float64 // signed: negative = approaching
	Magnitude   string
	RawFrame    string
	Format      ParseFormat
}

// VehicleDetection is emitted for every RadarReading whose magnitude
// clears the noise threshold.
type VehicleDetection struct {
	DetectionID   string     `json:"detection_id"`
	CorrelationID string     `json:"correlation_id"`
	Timestamp     time.Time  `json:"timestamp"`
	SpeedMPH      float64    `json:"speed_mph"`
	SpeedMPS      float64    `json:"speed_mps"`
	AlertLevel    AlertLevel `json:"alert_level"`
	Source        string     `json:"source"` // always "radar"
}

// Direction derives the sign-based direction label used in persistence.
func (d VehicleDetection) Direction() string {
	if d.SpeedMPH < 0 {
		return "approaching"
	}
	return "receding"
}

// CameraDetection is a normalized AI-camera event, cached in a bounded ring.
type CameraDetection struct {
	ImageID           string    `json:"image_id"`
	Timestamp         time.Time `json:"timestamp"`
	VehicleCount      int       `json:"vehicle_count"`
	VehicleTypes      []string  `json:"vehicle_types"`
	PrimaryConfidence float64   `json:"primary_confidence"`
	ImagePath         string    `json:"image_path"`
}

// WeatherSample is a validated DHT22 (or external API) reading.
type WeatherSample struct {
	Timestamp    time.Time `json:"timestamp"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	SourceTag    string    `json:"source"` // "local_sensor" | "external_api"
}

// SpeedTrend classifies how a VehicleGroup's speed is evolving.
type SpeedTrend string

const (
	TrendInitial    SpeedTrend = "initial"
	TrendIncreasing SpeedTrend = "increasing"
	TrendDecreasing SpeedTrend = "decreasing"
	TrendSteady     SpeedTrend = "steady"
)

// VehicleGroup is mutated exclusively by the Correlator (single writer,
// spec.md §5) — never shared outside that goroutine.
type VehicleGroup struct {
	GroupID          string
	FirstTimestamp   time.Time
	LatestTimestamp  time.Time
	Detections       []VehicleDetection
	LatestSpeedMPH   float64
	LatestSpeedMPS   float64
	DetectionCount   int
	SpeedTrend       SpeedTrend
	firstAbsSpeedMPH float64
}

// NewVehicleGroup seeds a group from its triggering detection.
func NewVehicleGroup(groupID string, d VehicleDetection) *VehicleGroup {
	return &VehicleGroup{
		GroupID:          groupID,
		FirstTimestamp:   d.Timestamp,
		LatestTimestamp:  d.Timestamp,
		Detections:       []VehicleDetection{d},
		LatestSpeedMPH:   d.SpeedMPH,
		LatestSpeedMPS:   d.SpeedMPS,
		DetectionCount:   1,
		SpeedTrend:       TrendInitial,
		firstAbsSpeedMPH: Abs(d.SpeedMPH),
	}
}

// Extend appends a matching detection and recomputes latest_* and
// speed_trend (first vs. last absolute speed; ties -> steady, per
// spec.md §9's resolved open question).
func (g *VehicleGroup) Extend(d VehicleDetection) {
	g.Detections = append(g.Detections, d)
	g.LatestTimestamp = d.Timestamp
	g.LatestSpeedMPH = d.SpeedMPH
	g.LatestSpeedMPS = d.SpeedMPS
	g.DetectionCount++

	last := Abs(d.SpeedMPH)
	switch {
	case last > g.firstAbsSpeedMPH:
		g.SpeedTrend = TrendIncreasing
	case last < g.firstAbsSpeedMPH:
		g.SpeedTrend = TrendDecreasing
	default:
		g.SpeedTrend = TrendSteady
	}
}

// FirstDetectionID is the correlation_id propagated to every
// ConsolidatedRecord this group ever produces.
func (g *VehicleGroup) FirstDetectionID() string {
	return g.Detections[0].DetectionID
}

// Abs is the shared absolute-value helper for signed speeds; exported
// so every package that compares magnitudes (grouping, rollups) uses
// the same definition instead of redeclaring it.
func Abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// CameraData is the camera portion of a ConsolidatedRecord: either a
// real correlation or the documented fallback stub.
type CameraData struct {
	VehicleCount        int      `json:"vehicle_count"`
	VehicleTypes        []string `json:"vehicle_types"`
	PrimaryConfidence   float64  `json:"primary_confidence"`
	ImageID             string   `json:"image_id"`
	ImagePath           string   `json:"image_path"`
	CorrelationTimeDiff float64  `json:"correlation_time_diff"`
	FallbackReason      string   `json:"fallback_reason,omitempty"`
}

// WeatherData is a point-in-time weather snapshot; zero value means "no
// weather data available at correlation time".
type WeatherData struct {
	Available    bool      `json:"available"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	SourceTag    string    `json:"source"`
	ObservedAt   time.Time `json:"observed_at"`
}

// ProcessingMetadata records how a ConsolidatedRecord was built.
type ProcessingMetadata struct {
	SourcesUsed         []string `json:"sources_used"`
	ConsolidationMethod string   `json:"consolidation_method"`
}

const (
	MethodRadarOnly             = "radar_only"
	MethodRadarCameraCorrelated = "radar_camera_correlated"
)

// ConsolidatedRecord is the join of a triggering radar detection with
// the closest contemporaneous camera and weather data. Immutable after
// emission (spec.md §3 invariant).
type ConsolidatedRecord struct {
	ConsolidationID string    `json:"consolidation_id"`
	CorrelationID   string    `json:"correlation_id"`
	Timestamp       time.Time `json:"timestamp"`
	TriggerSource   string    `json:"trigger_source"`

	RadarDetection VehicleDetection `json:"radar_data"`
	Direction      string           `json:"direction"`

	Weather WeatherData `json:"weather_data"`
	Camera  CameraData  `json:"camera_data"`

	Metadata ProcessingMetadata `json:"processing_metadata"`
}
