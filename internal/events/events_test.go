package events

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"kasirledger/backend/internal/domain"
)

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, domain.Event) error { return f.err }

func TestFanoutDeliversToAllSinks(t *testing.T) {
	var a, b Recorder
	boom := errors.New("down")
	f := Fanout{&a, failingSink{err: boom}, &b}

	err := f.Publish(context.Background(), domain.Event{Type: domain.EventOrderCreated})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{domain.EventOrderCreated}, a.Types())
	assert.Equal(t, []string{domain.EventOrderCreated}, b.Types())
}

func TestLogSinkWritesAttributes(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Publish(context.Background(), domain.Event{
		ID:         "evt-1",
		Type:       domain.EventShiftClosed,
		EntityID:   "shf-1",
		Attributes: map[string]string{"discrepancy": "-48.00"},
		OccurredAt: time.Now(),
	}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "events", entries[0].LoggerName)
	assert.Equal(t, "-48.00", entries[0].ContextMap()["attr.discrepancy"])
}

func TestRedisStream_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	stream := "it:events:" + time.Now().Format(time.RFC3339Nano)
	defer client.Del(ctx, stream)
	s := NewRedisStream(client, stream)
	require.NoError(t, s.Publish(ctx, domain.Event{ID: "evt-1", Type: domain.EventRefundCompleted, OccurredAt: time.Now()}))

	n, err := client.XLen(ctx, stream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
