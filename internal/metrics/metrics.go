// Package metrics holds the per-component Prometheus counters named in
// spec.md §7 ("surfaced as counters"), following the teacher's
// promauto-registered metric style (internal/metrics/collector.go,
// internal/live/telemetry.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RadarLinesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radar_lines_read_total",
		Help: "Total serial lines read from the radar tty",
	})
	RadarParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radar_parse_errors_total",
		Help: "Radar lines that did not match any accepted grammar",
	})
	RadarNoiseFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radar_noise_filtered_total",
		Help: "Readings below the noise threshold, never published",
	})
	RadarDetectionsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_detections_published_total",
		Help: "Detections published to traffic:radar by alert level",
	}, []string{"alert_level"})
	RadarSerialErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radar_serial_errors_total",
		Help: "Serial I/O errors that triggered a read restart",
	})

	WeatherReadsOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_reads_ok_total",
		Help: "Successful DHT22 reads",
	})
	WeatherReadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_reads_failed_total",
		Help: "Failed DHT22 reads (checksum or range validation failure)",
	})

	CameraEventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camera_events_received_total",
		Help: "Normalized detection events received from the external camera process",
	})
	CameraDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camera_decode_errors_total",
		Help: "Camera payloads dropped for failing to decode",
	})

	CorrelatorBatchesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_batches_consumed_total",
		Help: "Radar stream batches consumed via the consolidator-group",
	})
	CorrelatorGroupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_groups_created_total",
		Help: "New VehicleGroups created",
	})
	CorrelatorGroupsExtended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_groups_extended_total",
		Help: "Detections absorbed into an existing VehicleGroup (suppressed duplicates)",
	})
	CorrelatorGroupsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_groups_evicted_total",
		Help: "VehicleGroups evicted by the periodic sweep",
	})
	CorrelatorCameraMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_camera_matched_total",
		Help: "Consolidated records with a real camera correlation",
	})
	CorrelatorCameraFallback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_camera_fallback_total",
		Help: "Consolidated records that fell back to the camera stub",
	})
	CorrelatorRecordsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_records_emitted_total",
		Help: "Consolidated records published to traffic:consolidated",
	})
	CorrelatorMessageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_message_errors_total",
		Help: "Malformed radar stream entries, dead-lettered (acked and dropped)",
	})
	CorrelatorPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlator_publish_failures_total",
		Help: "Consolidated-stream publish failures; message left unacked for redelivery",
	})

	PersisterUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persister_upserts_total",
		Help: "Consolidated records upserted into the primary store",
	})
	PersisterSecondaryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persister_secondary_failures_total",
		Help: "Secondary (non-authoritative) store write failures",
	})
	PersisterDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persister_decode_errors_total",
		Help: "Malformed consolidated stream entries, dead-lettered",
	})
	PersisterRetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persister_retention_rows_deleted_total",
		Help: "Rows deleted by the retention cleanup sweep",
	})

	BrokerSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_subscribers_active",
		Help: "Currently connected realtime subscribers",
	})
	BrokerMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_dropped_total",
		Help: "Messages dropped for a slow subscriber, by channel",
	}, []string{"channel"})
	BrokerMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_sent_total",
		Help: "Messages fanned out successfully, by channel",
	}, []string{"channel"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served by internal/httpapi, by route and status",
	}, []string{"route", "status"})
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "HTTP request duration by route",
	}, []string{"route"})
)
