package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStreamsClient is the subset of go-redis used by the stream bus.
type RedisStreamsClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) (string, error)
	XReadGroup(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) error
	XLen(ctx context.Context, stream string) (int64, error)
}

// RedisStreamsClientAdapter adapts go-redis/v9 Client to the RedisStreamsClient interface.
type RedisStreamsClientAdapter struct {
	Client *redis.Client
}

// XAdd adds an entry to a stream
func (a *RedisStreamsClientAdapter) XAdd(ctx context.Context, args *redis.XAddArgs) (string, error) {
	return a.Client.XAdd(ctx, args).Result()
}

// XReadGroup reads entries from a stream using a consumer group
func (a *RedisStreamsClientAdapter) XReadGroup(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error) {
	return a.Client.XReadGroup(ctx, args).Result()
}

// XAck acknowledges processed messages
func (a *RedisStreamsClientAdapter) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	return a.Client.XAck(ctx, stream, group, ids...).Result()
}

// XGroupCreateMkStream creates a consumer group (and the stream if needed)
func (a *RedisStreamsClientAdapter) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	return a.Client.XGroupCreateMkStream(ctx, stream, group, start).Err()
}

// XLen returns the length of a stream
func (a *RedisStreamsClientAdapter) XLen(ctx context.Context, stream string) (int64, error) {
	return a.Client.XLen(ctx, stream).Result()
}

// RedisStreamsConfig holds configuration for Redis Streams event bus.
type RedisStreamsConfig struct {
	StreamKey     string        // Redis stream key name
	ConsumerGroup string        // Consumer group name
	ConsumerName  string        // Unique consumer name within the group
	MaxLen        int64         // Max stream length (0 = unlimited, uses MAXLEN ~ approximation)
	BlockTimeout  time.Duration // Block timeout for XREADGROUP
	BatchSize     int64         // Number of messages to read at once
}

// DefaultRedisStreamsConfig returns default configuration.
func DefaultRedisStreamsConfig() RedisStreamsConfig {
	return RedisStreamsConfig{
		StreamKey:     "message-hook-events",
		ConsumerGroup: "message-hook-subscribers",
		ConsumerName:  "subscriber-1",
		MaxLen:        10000,
		BlockTimeout:  5 * time.Second,
		BatchSize:     100,
	}
}

// RedisStreamsEventBus publishes events with XADD and delivers them to subscribers through
// a consumer group, acknowledging each message once it has been handed over.
type RedisStreamsEventBus struct {
	client       RedisStreamsClient
	config       RedisStreamsConfig
	logger       *zap.Logger
	stats        busStats
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	groupCreated atomic.Bool
}

// NewRedisStreamsEventBus creates a new Redis Streams event bus.
func NewRedisStreamsEventBus(client RedisStreamsClient, config RedisStreamsConfig, logger *zap.Logger) *RedisStreamsEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	return &RedisStreamsEventBus{
		client: client,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// EnsureConsumerGroup creates the consumer group if it doesn't exist.
func (b *RedisStreamsEventBus) EnsureConsumerGroup(ctx context.Context) error {
	if b.groupCreated.Load() {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, b.config.StreamKey, b.config.ConsumerGroup, "0")
	if err != nil && !isGroupExistsError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	b.groupCreated.Store(true)
	return nil
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Publish adds an event to the Redis stream using XADD.
func (b *RedisStreamsEventBus) Publish(ctx context.Context, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Warn("Failed to marshal event", zap.Error(err))
		b.stats.dropped.Add(1)
		return
	}

	args := &redis.XAddArgs{
		Stream: b.config.StreamKey,
		Values: map[string]interface{}{"data": string(data)},
	}
	if b.config.MaxLen > 0 {
		args.MaxLen = b.config.MaxLen
		args.Approx = true
	}

	if _, err := b.client.XAdd(ctx, args); err != nil {
		b.logger.Warn("Failed to publish event",
			zap.String("stream", b.config.StreamKey),
			zap.String("call_id", evt.CallID),
			zap.Error(err))
		b.stats.dropped.Add(1)
		return
	}
	b.stats.published.Add(1)
}

// Subscribe starts a consumer goroutine and returns its channel. The channel is closed
// by Stop.
func (b *RedisStreamsEventBus) Subscribe() <-chan Event {
	ch := make(chan Event, b.config.BatchSize)
	b.wg.Add(1)
	go b.consumeLoop(ch)
	return ch
}

func (b *RedisStreamsEventBus) consumeLoop(ch chan Event) {
	defer b.wg.Done()
	defer close(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := b.EnsureConsumerGroup(ctx); err != nil {
		b.logger.Error("Failed to ensure consumer group", zap.Error(err))
		return
	}

	// entries delivered to this consumer before a restart come first
	if !b.readAndDeliver(ctx, ch, "0", 0) {
		return
	}
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		if !b.readAndDeliver(ctx, ch, ">", b.config.BlockTimeout) {
			return
		}
	}
}

// readAndDeliver runs one XREADGROUP and forwards the messages. It returns false once the
// bus is stopping.
func (b *RedisStreamsEventBus) readAndDeliver(ctx context.Context, ch chan Event, start string, block time.Duration) bool {
	args := &redis.XReadGroupArgs{
		Group:    b.config.ConsumerGroup,
		Consumer: b.config.ConsumerName,
		Streams:  []string{b.config.StreamKey, start},
		Count:    b.config.BatchSize,
	}
	if start == ">" {
		args.Block = block
	}
	streams, err := b.client.XReadGroup(ctx, args)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true
		}
		select {
		case <-b.stopCh:
			return false
		default:
		}
		b.logger.Warn("Error reading from stream", zap.String("stream", b.config.StreamKey), zap.Error(err))
		select {
		case <-b.stopCh:
			return false
		case <-time.After(time.Second):
		}
		return true
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			evt, err := parseMessage(msg)
			if err != nil {
				b.logger.Warn("Dropping malformed stream message", zap.String("id", msg.ID), zap.Error(err))
				_, _ = b.client.XAck(ctx, b.config.StreamKey, b.config.ConsumerGroup, msg.ID)
				continue
			}
			select {
			case ch <- evt:
				if _, err := b.client.XAck(ctx, b.config.StreamKey, b.config.ConsumerGroup, msg.ID); err != nil {
					b.logger.Warn("Failed to acknowledge message", zap.String("id", msg.ID), zap.Error(err))
				}
			case <-b.stopCh:
				return false
			}
		}
	}
	return true
}

func parseMessage(msg redis.XMessage) (Event, error) {
	var evt Event
	data, ok := msg.Values["data"]
	if !ok {
		return evt, fmt.Errorf("message missing 'data' field")
	}
	dataStr, ok := data.(string)
	if !ok {
		return evt, fmt.Errorf("'data' field is not a string")
	}
	if err := json.Unmarshal([]byte(dataStr), &evt); err != nil {
		return evt, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return evt, nil
}

// Stop stops all consumers and closes their channels.
func (b *RedisStreamsEventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
	})
}

// Stats returns the number of published and dropped events.
func (b *RedisStreamsEventBus) Stats() (published, dropped int) {
	return int(b.stats.published.Load()), int(b.stats.dropped.Load())
}

// StreamLength returns the current length of the stream.
func (b *RedisStreamsEventBus) StreamLength(ctx context.Context) (int64, error) {
	return b.client.XLen(ctx, b.config.StreamKey)
}
