// Package bus is the Event Bus of spec.md §4.A: a thin surface over
// Redis covering durable streams with consumer groups, best-effort
// pub/sub, latest-value keys, and bounded lists. Grounded on the
// teacher's own Redis usage (internal/live/service.go,
// internal/live/telemetry.go) for key/ttl conventions, and on pack
// member brokle-ai-brokle's telemetry_stream_consumer.go for the
// consumer-group read/ack idiom.
package bus

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackendUnavailable is joined onto every Redis error a Bus method
// returns (redis.Nil excepted), whatever its cause; callers retry with
// bounded backoff per spec.md §4.A.
var ErrBackendUnavailable = errors.New("bus: backend unavailable")

// ErrDecode names the failure of decoding a stream entry's fields into
// the caller's expected shape. No Bus method returns it: consumers
// decode entries themselves and log and drop the single entry
// (spec.md §4.A).
var ErrDecode = errors.New("bus: decode error")

// StreamEntry is one durable stream record.
type StreamEntry struct {
	ID     string
	Fields map[string]interface{}
}

// Bus wraps a single redis.Client. It has no state of its own: every
// operation is a direct Redis call, so the Bus itself can be freely
// shared across every component (spec.md §3: "Event Bus owns stream
// state; all other components hold handles").
type Bus struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

func (b *Bus) wrapErr(err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	return errors.Join(ErrBackendUnavailable, err)
}

// PublishStream appends fields to stream with a server-assigned,
// monotonic id.
func (b *Bus) PublishStream(ctx context.Context, stream string, fields map[string]interface{}) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", b.wrapErr(err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group starting from the beginning of
// the stream, creating the stream itself if absent (mkstream=true per
// spec.md §4.E). BUSYGROUP (group already exists) is treated as success.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return b.wrapErr(err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// ConsumeGroup reads up to max pending-then-new entries for consumer
// within group: entries already delivered to consumer and not yet acked
// come first, and only when there are none are new entries read,
// blocking for block if nothing is immediately available.
// Per-group FIFO delivery: each entry goes to exactly one consumer until
// acked (spec.md §4.A).
func (b *Bus) ConsumeGroup(ctx context.Context, stream, group, consumer string, max int64, block time.Duration) ([]StreamEntry, error) {
	// "0" re-reads this consumer's delivered-but-unacked entries; ">" reads
	// entries never delivered to the group.
	for _, start := range []string{"0", ">"} {
		args := &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, start},
			Count:    max,
			Block:    block,
		}
		if start == "0" {
			args.Block = -1 // pending entries are read without blocking
		}
		res, err := b.rdb.XReadGroup(ctx, args).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, b.wrapErr(err)
		}

		var out []StreamEntry
		for _, s := range res {
			for _, msg := range s.Messages {
				out = append(out, StreamEntry{ID: msg.ID, Fields: msg.Values})
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

// Ack removes a pending entry. Safe to call twice (spec.md §4.A): Redis
// XACK on an already-acked id is simply a no-op success.
func (b *Bus) Ack(ctx context.Context, stream, group, id string) error {
	if err := b.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return b.wrapErr(err)
	}
	return nil
}

// PublishPubSub is a best-effort, non-durable broadcast.
func (b *Bus) PublishPubSub(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return b.wrapErr(err)
	}
	return nil
}

// Subscription wraps a redis.PubSub so callers don't depend on go-redis
// directly.
type Subscription struct {
	ps *redis.PubSub
}

func (s *Subscription) Channel() <-chan *redis.Message {
	return s.ps.Channel()
}

func (s *Subscription) Close() error {
	return s.ps.Close()
}

// SubscribePubSub returns a finite-while-subscribed lazy sequence
// (spec.md §4.A); delivery to each subscriber is independent because
// each call opens its own Redis subscription.
func (b *Bus) SubscribePubSub(ctx context.Context, channel string) *Subscription {
	return &Subscription{ps: b.rdb.Subscribe(ctx, channel)}
}

// SetLatest is last-writer-wins with optional expiry (ttl<=0 means no
// expiry).
func (b *Bus) SetLatest(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return b.wrapErr(err)
	}
	return nil
}

// GetLatest returns the current value, or ("", false, nil) if absent.
func (b *Bus) GetLatest(ctx context.Context, key string) (string, bool, error) {
	v, err := b.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, b.wrapErr(err)
	}
	return v, true, nil
}

// SetLatestHash and GetLatestHash give latest-value semantics to a hash
// key (used for weather:dht22, which stores multiple fields per sample).
func (b *Bus) SetLatestHash(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return b.wrapErr(err)
	}
	return nil
}

func (b *Bus) GetLatestHash(ctx context.Context, key string) (map[string]string, bool, error) {
	v, err := b.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, b.wrapErr(err)
	}
	if len(v) == 0 {
		return nil, false, nil
	}
	return v, true, nil
}

// PushBoundedList prepends value and trims the list to cap most-recent
// entries.
func (b *Bus) PushBoundedList(ctx context.Context, key string, value interface{}, cap int64) error {
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return b.wrapErr(err)
	}
	return nil
}

// AddToSortedSeries appends a timestamped member and trims anything
// older than maxAge — used for the weather time-series key bounded to
// 24h (spec.md §4.C).
func (b *Bus) AddToSortedSeries(ctx context.Context, key string, member string, score float64, maxAge time.Duration) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	cutoff := float64(time.Now().Add(-maxAge).Unix())
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', -1, 64))
	if _, err := pipe.Exec(ctx); err != nil {
		return b.wrapErr(err)
	}
	return nil
}

// ListRange returns the [start, stop] (inclusive) slice of a bounded
// list written by PushBoundedList, newest-first.
func (b *Bus) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	items, err := b.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, b.wrapErr(err)
	}
	return items, nil
}

// Ping checks the underlying Redis connection, used by the Query
// Surface's health() composition (spec.md §4.H).
func (b *Bus) Ping(ctx context.Context) error {
	return b.wrapErr(b.rdb.Ping(ctx).Err())
}
