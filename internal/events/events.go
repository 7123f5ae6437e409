package events

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kasirledger/backend/internal/domain"
)

// Sink receives domain events after the unit of work that produced them has
// committed. Implementations must not block the caller for long.
type Sink interface {
	Publish(ctx context.Context, event domain.Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, domain.Event) error { return nil }

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Publish(_ context.Context, event domain.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("store_id", event.StoreID),
		zap.String("entity_id", event.EntityID),
		zap.Time("occurred_at", event.OccurredAt),
	}
	for k, v := range event.Attributes {
		fields = append(fields, zap.String("attr."+k, v))
	}
	s.logger.Info("domain event", fields...)
	return nil
}

// RedisStream appends events to a Redis stream, trimmed to roughly maxLen.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	if stream == "" {
		stream = "pos:events"
	}
	return &RedisStream{client: client, stream: stream, maxLen: 100000}
}

func (s *RedisStream) Publish(ctx context.Context, event domain.Event) error {
	values := map[string]any{
		"id":          event.ID,
		"type":        event.Type,
		"store_id":    event.StoreID,
		"entity_id":   event.EntityID,
		"occurred_at": event.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	for k, v := range event.Attributes {
		values["attr:"+k] = v
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// Fanout publishes to every sink and returns the first error.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var first error
	for _, sink := range f {
		if err := sink.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Publish(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}
