package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisBus(t *testing.T, cfg RedisStreamsConfig) (*RedisStreamsEventBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStreamsEventBus(&RedisStreamsClientAdapter{Client: client}, cfg, nil), mr
}

func testStreamsConfig() RedisStreamsConfig {
	cfg := DefaultRedisStreamsConfig()
	cfg.StreamKey = "test-events"
	cfg.BlockTimeout = 50 * time.Millisecond
	cfg.BatchSize = 10
	return cfg
}

func TestRedisStreamsEventBus_PublishAndSubscribe(t *testing.T) {
	bus, _ := newMiniredisBus(t, testStreamsConfig())
	defer bus.Stop()

	ctx := context.Background()
	require.NoError(t, bus.EnsureConsumerGroup(ctx))
	events := bus.Subscribe()

	bus.Publish(ctx, Event{Type: TypeCallFinalized, CallID: "call-1", Status: 200, Duration: time.Second})
	bus.Publish(ctx, Event{Type: TypeCallFinalized, CallID: "call-2", Status: 500, Error: "boom"})

	var got []Event
	for len(got) < 2 {
		select {
		case evt := <-events:
			got = append(got, evt)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, received %d events", len(got))
		}
	}
	assert.Equal(t, "call-1", got[0].CallID)
	assert.Equal(t, time.Second, got[0].Duration)
	assert.Equal(t, "boom", got[1].Error)

	published, dropped := bus.Stats()
	assert.Equal(t, 2, published)
	assert.Equal(t, 0, dropped)

	n, err := bus.StreamLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisStreamsEventBus_EnsureConsumerGroupIdempotent(t *testing.T) {
	cfg := testStreamsConfig()
	bus, mr := newMiniredisBus(t, cfg)
	ctx := context.Background()
	require.NoError(t, bus.EnsureConsumerGroup(ctx))

	// a second bus against the same stream sees BUSYGROUP and treats it as success
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	other := NewRedisStreamsEventBus(&RedisStreamsClientAdapter{Client: client}, cfg, nil)
	assert.NoError(t, other.EnsureConsumerGroup(ctx))
}

func TestRedisStreamsEventBus_SkipsMalformedMessages(t *testing.T) {
	bus, mr := newMiniredisBus(t, testStreamsConfig())
	defer bus.Stop()
	ctx := context.Background()
	require.NoError(t, bus.EnsureConsumerGroup(ctx))

	_, err := mr.XAdd("test-events", "*", []string{"other", "x"})
	require.NoError(t, err)
	_, err = mr.XAdd("test-events", "*", []string{"data", "{broken"})
	require.NoError(t, err)
	bus.Publish(ctx, Event{CallID: "good"})

	events := bus.Subscribe()
	select {
	case evt := <-events:
		assert.Equal(t, "good", evt.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid event not delivered")
	}
}

type failingStreamsClient struct {
	RedisStreamsClient
}

func (failingStreamsClient) XAdd(context.Context, *redis.XAddArgs) (string, error) {
	return "", errors.New("connection refused")
}

func (failingStreamsClient) XGroupCreateMkStream(context.Context, string, string, string) error {
	return errors.New("NOAUTH")
}

func TestRedisStreamsEventBus_Failures(t *testing.T) {
	bus := NewRedisStreamsEventBus(failingStreamsClient{}, testStreamsConfig(), nil)
	bus.Publish(context.Background(), Event{CallID: "x"})
	published, dropped := bus.Stats()
	assert.Equal(t, 0, published)
	assert.Equal(t, 1, dropped)

	assert.Error(t, bus.EnsureConsumerGroup(context.Background()))

	// the consumer gives up and closes its channel
	events := bus.Subscribe()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
	bus.Stop()
}

func TestParseMessage(t *testing.T) {
	_, err := parseMessage(redis.XMessage{Values: map[string]interface{}{"data": 1}})
	assert.Error(t, err)
	evt, err := parseMessage(redis.XMessage{Values: map[string]interface{}{"data": `{"call_id":"c"}`}})
	require.NoError(t, err)
	assert.Equal(t, "c", evt.CallID)
}
