// Package radar is the Radar Ingestor of spec.md §4.B: serial framing,
// priority-ordered parsing, noise filtering, alert classification, and
// publish to the Event Bus. Grounded on pack member
// lkumar3-iitr-Sensor-Logger's radar_reader.go for the bounded
// producer-loop shape and on original_source/radar_service.py for wire
// thresholds and the startup command sequence.
package radar

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/config"
	"github.com/trafficmon/edge-pipeline/internal/metrics"
	"github.com/trafficmon/edge-pipeline/internal/models"
	"github.com/trafficmon/edge-pipeline/internal/syncutil"
)

const (
	streamRadar        = "traffic:radar"
	channelEvents      = "traffic_events"
	businessEventsList = "traffic:recent:business_events"
	businessEventsCap  = 100
)

// Port is the minimal surface radar.Ingestor needs from a serial
// connection; satisfied by *serial.Port and by any io.ReadWriter in
// tests (e.g. net.Pipe or an in-memory buffer).
type Port interface {
	io.ReadWriter
}

// Ingestor owns the radar serial handle exclusively (spec.md §3: "Radar
// ingestor exclusively owns its sensor handle").
type Ingestor struct {
	port       Port
	b          *bus.Bus
	thresholds func() config.Thresholds
	log        *logrus.Entry
	reopen     func() (Port, error)

	// readWG tracks the single live readLines goroutine so Run can wait
	// for it to actually exit on shutdown instead of returning out from
	// under it.
	readWG sync.WaitGroup
}

// New builds an Ingestor. thresholds is called per-reading so a live
// config reload (internal/config.ThresholdWatcher) takes effect
// immediately. reopen, if non-nil, is used to reconnect after a read
// error; if nil the ingestor simply keeps retrying reads on the same
// port.
func New(port Port, b *bus.Bus, thresholds func() config.Thresholds, log *logrus.Entry, reopen func() (Port, error)) *Ingestor {
	return &Ingestor{port: port, b: b, thresholds: thresholds, log: log, reopen: reopen}
}

// startupCommands is the fixed configuration sequence spec.md §4.B
// requires on startup: JSON mode, low/high alert thresholds, enable
// alerts. Each line has a 1s response window; failures are logged and
// never abort startup.
func (in *Ingestor) startupCommands() []string {
	t := in.thresholds()
	return []string{
		"OJ\n", // enable JSON output mode
		fmt.Sprintf("R<%.1f\n", t.LowThresholdMPH),
		fmt.Sprintf("R>%.1f\n", t.HighThresholdMPH),
		"OA\n", // enable alerts
	}
}

// Configure issues the startup command sequence, waiting up to 1s for
// each command's response without aborting on failure. lines is the
// single long-lived reader goroutine's output; Configure only peeks at
// it for an ack and never owns a reader of its own, so a slow/missing
// response can never race the main loop over the port.
func (in *Ingestor) Configure(ctx context.Context, lines <-chan string) {
	for _, cmd := range in.startupCommands() {
		if _, err := in.port.Write([]byte(cmd)); err != nil {
			in.log.WithError(err).WithField("command", cmd).Warn("radar configuration command failed to send")
			continue
		}

		select {
		case <-lines:
		case <-time.After(time.Second):
			in.log.WithField("command", cmd).Warn("radar configuration command timed out waiting for response")
		case <-ctx.Done():
			return
		}
	}
}

// Run is the main loop: Worker interface for internal/supervisor. A
// single goroutine owns in.port's Read calls for the life of each
// connection (grounded on lkumar3-iitr-Sensor-Logger's radar_reader.go
// bounded-channel producer-loop shape); Configure and the detection
// loop both only ever consume from the channel it feeds, so the port is
// never read from two goroutines at once. On ctx cancellation, Run
// waits for that reader goroutine to actually exit before returning, so
// internal/supervisor's join-timeout still reflects a stuck read
// instead of reporting a clean shutdown out from under a leaked
// goroutine and open port handle.
func (in *Ingestor) Run(ctx context.Context) {
	lines := make(chan string, 16)
	readErrs := make(chan error, 1)
	in.spawnReader(ctx, in.port, lines, readErrs)

	in.Configure(ctx, lines)

	for {
		select {
		case <-ctx.Done():
			in.shutdownReader()
			return
		case line := <-lines:
			metrics.RadarLinesRead.Inc()
			in.handleLine(ctx, line)
		case err := <-readErrs:
			metrics.RadarSerialErrors.Inc()
			in.log.WithError(err).Warn("radar serial read error, restarting after pause")
			if !in.reconnect(ctx, lines, readErrs) {
				in.shutdownReader()
				return
			}
		}
	}
}

// spawnReader launches readLines tracked on readWG, so shutdownReader
// can wait for it to actually exit rather than assuming it has.
func (in *Ingestor) spawnReader(ctx context.Context, port Port, lines chan string, readErrs chan error) {
	in.readWG.Add(1)
	go func() {
		defer in.readWG.Done()
		in.readLines(ctx, port, lines, readErrs)
	}()
}

// shutdownReader closes the current port, if it supports Close, to
// unblock a readLines goroutine parked in a blocking Read call, then
// waits for it to exit. The real serial.Port (internal/platform/serial)
// also bounds each Read to its VTIME timeout even with no data, so this
// is a faster nudge rather than the only thing bounding the wait.
func (in *Ingestor) shutdownReader() {
	if c, ok := in.port.(io.Closer); ok {
		c.Close()
	}
	in.readWG.Wait()
}

// reconnect waits out the read-error backoff and, if a reopen func is
// configured, keeps retrying it until it succeeds, so a transient
// failure (device briefly unplugged or re-enumerating) never leaves the
// ingestor permanently without a reader. It returns false only when ctx
// is cancelled.
func (in *Ingestor) reconnect(ctx context.Context, lines chan string, readErrs chan error) bool {
	if !syncutil.SleepOrDone(ctx, time.Second) {
		return false
	}
	if in.reopen == nil {
		in.spawnReader(ctx, in.port, lines, readErrs)
		return true
	}
	for {
		p, err := in.reopen()
		if err == nil {
			in.replacePort(p)
			in.spawnReader(ctx, in.port, lines, readErrs)
			in.Configure(ctx, lines)
			return true
		}
		in.log.WithError(err).Error("radar serial reopen failed, retrying after pause")
		if !syncutil.SleepOrDone(ctx, time.Second) {
			return false
		}
	}
}

// replacePort closes the previous port, if it supports Close, before
// swapping in the newly reopened one, so a reconnect cycle can't leak
// the old file descriptor.
func (in *Ingestor) replacePort(p Port) {
	if c, ok := in.port.(io.Closer); ok {
		c.Close()
	}
	in.port = p
}

// readLines scans port line-by-line and forwards each line (or the
// terminal read error) on the given channels. Exactly one of these runs
// per live port connection.
func (in *Ingestor) readLines(ctx context.Context, port Port, lines chan<- string, errs chan<- error) {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case errs <- err:
	case <-ctx.Done():
	}
}

func (in *Ingestor) handleLine(ctx context.Context, raw string) {
	out := ParseLine(raw)
	if !out.Ok {
		metrics.RadarParseErrors.Inc()
		in.log.WithField("raw", raw).Debug("radar line did not match any grammar")
		return
	}

	t := in.thresholds()
	absSpeed := models.Abs(out.SpeedMPH)

	if absSpeed < t.NoiseThresholdMPH {
		metrics.RadarNoiseFiltered.Inc()
		return
	}

	level := classify(absSpeed, t)
	detectionID := randomHexID()
	now := time.Now()

	detection := models.VehicleDetection{
		DetectionID:   detectionID,
		CorrelationID: detectionID,
		Timestamp:     now,
		SpeedMPH:      out.SpeedMPH,
		SpeedMPS:      out.SpeedMPH / mpsToMph,
		AlertLevel:    level,
		Source:        "radar",
	}

	fields := map[string]interface{}{
		"speed":          detection.SpeedMPH,
		"speed_mps":      detection.SpeedMPS,
		"magnitude":      out.Magnitude,
		"unit":           "mph",
		"alert_level":    string(detection.AlertLevel),
		"detection_id":   detection.DetectionID,
		"correlation_id": detection.CorrelationID,
		"_timestamp":     now.Format(time.RFC3339Nano),
		"_raw":           raw,
		"_source":        "radar",
		"_format":        string(out.Format),
	}

	if _, err := in.b.PublishStream(ctx, streamRadar, fields); err != nil {
		in.log.WithError(err).WithField("detection_id", detectionID).Error("failed to publish radar detection")
		return
	}
	metrics.RadarDetectionsPublished.WithLabelValues(string(level)).Inc()

	evt := map[string]interface{}{
		"event_type":     "vehicle_detection",
		"detection_id":   detection.DetectionID,
		"speed_mph":      detection.SpeedMPH,
		"alert_level":    string(detection.AlertLevel),
		"correlation_id": detection.CorrelationID,
		"timestamp":      now.Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		in.log.WithError(err).Warn("failed to marshal vehicle_detection event")
		return
	}
	if err := in.b.PublishPubSub(ctx, channelEvents, payload); err != nil {
		in.log.WithError(err).Warn("failed to publish vehicle_detection pub/sub event")
	}

	if err := in.b.PushBoundedList(ctx, businessEventsList, payload, businessEventsCap); err != nil {
		in.log.WithError(err).Warn("failed to append vehicle_detection to business events list")
	}
}

func classify(absSpeed float64, t config.Thresholds) models.AlertLevel {
	switch {
	case absSpeed >= t.HighThresholdMPH:
		return models.AlertHigh
	case absSpeed >= t.LowThresholdMPH:
		return models.AlertLow
	default:
		return models.AlertNormal
	}
}

func randomHexID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// time-derived id rather than panicking the ingestor.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf)
}
