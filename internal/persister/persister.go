package persister

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/metrics"
	"github.com/trafficmon/edge-pipeline/internal/models"
	"github.com/trafficmon/edge-pipeline/internal/syncutil"
)

const (
	streamConsolidated = "traffic:consolidated"
	groupPersister     = "persister-group"

	consumeBatch        = 10
	consumeBlock        = time.Second
	consumeErrorBackoff = 2 * time.Second
	retentionTick       = time.Hour
)

// Persister is the Worker registered with internal/supervisor; it owns
// the primary (and optional secondary) DB connections exclusively.
type Persister struct {
	b             *bus.Bus
	primary       *PrimaryStore
	secondary     *SecondaryStore // nil if not configured
	retentionDays int
	log           *logrus.Entry
	consumer      string
}

func New(b *bus.Bus, primary *PrimaryStore, secondary *SecondaryStore, retentionDays int, log *logrus.Entry) *Persister {
	return &Persister{
		b:             b,
		primary:       primary,
		secondary:     secondary,
		retentionDays: retentionDays,
		log:           log,
		consumer:      "persister-" + fmt.Sprintf("%d", time.Now().UnixNano()%100000),
	}
}

// Run is the Worker interface for internal/supervisor.
func (p *Persister) Run(ctx context.Context) {
	if err := p.b.EnsureGroup(ctx, streamConsolidated, groupPersister); err != nil {
		p.log.WithError(err).Error("failed to ensure persister-group")
	}

	retentionTicker := time.NewTicker(retentionTick)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retentionTicker.C:
			p.runRetention(ctx)
		default:
		}

		entries, err := p.b.ConsumeGroup(ctx, streamConsolidated, groupPersister, p.consumer, consumeBatch, consumeBlock)
		if err != nil {
			p.log.WithError(err).Warn("persister-group consume failed, backing off")
			if !syncutil.SleepOrDone(ctx, consumeErrorBackoff) {
				return
			}
			continue
		}
		for _, entry := range entries {
			p.handleEntry(ctx, entry)
		}
	}
}

func (p *Persister) handleEntry(ctx context.Context, entry bus.StreamEntry) {
	raw, ok := entry.Fields["data"].(string)
	if !ok {
		metrics.PersisterDecodeErrors.Inc()
		p.log.WithField("message_id", entry.ID).Warn("consolidated entry missing data field, dead-lettering")
		p.ack(ctx, entry.ID)
		return
	}

	var record models.ConsolidatedRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		metrics.PersisterDecodeErrors.Inc()
		p.log.WithError(err).WithField("message_id", entry.ID).Warn("malformed consolidated payload, dead-lettering")
		p.ack(ctx, entry.ID)
		return
	}

	createdAt := float64(time.Now().Unix())
	if err := p.primary.Upsert(ctx, record, raw, createdAt); err != nil {
		p.log.WithError(err).WithField("consolidation_id", record.ConsolidationID).Error("primary store upsert failed; leaving entry unacked for redelivery")
		return
	}
	metrics.PersisterUpserts.Inc()

	if p.secondary != nil {
		if err := p.secondary.Upsert(ctx, record, raw, createdAt); err != nil {
			metrics.PersisterSecondaryFailures.Inc()
			p.log.WithError(err).WithField("consolidation_id", record.ConsolidationID).Warn("secondary store upsert failed; continuing (SQLite is authoritative)")
		}
	}

	p.ack(ctx, entry.ID)
}

func (p *Persister) ack(ctx context.Context, id string) {
	if err := p.b.Ack(ctx, streamConsolidated, groupPersister, id); err != nil {
		p.log.WithError(err).WithField("message_id", id).Error("failed to ack consolidated entry")
	}
}

func (p *Persister) runRetention(ctx context.Context) {
	cutoff := float64(time.Now().AddDate(0, 0, -p.retentionDays).Unix())
	n, err := p.primary.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Error("retention cleanup failed")
		return
	}
	metrics.PersisterRetentionDeleted.Add(float64(n))
	p.log.WithField("rows_deleted", n).WithField("retention_days", p.retentionDays).Info("retention cleanup completed")
}
