package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/go-chat/logger"
)

// DefaultPublishTimeout bounds a single publish attempt.
const DefaultPublishTimeout = 5 * time.Second

// RedisMonitor publishes each event as a JSON document to a Redis pub/sub
// channel, so external tooling can follow chat activity without touching the
// server. Publishing is best effort: a failed publish is logged and dropped,
// never propagated back into message handling.
type RedisMonitor struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	log     logger.Logger
}

// redisEvent is the wire form of an Event on the pub/sub channel.
type redisEvent struct {
	Kind      string    `json:"kind"`
	Username  string    `json:"username,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// NewRedisMonitor creates a Monitor that publishes events to the given
// channel using client.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	mon := monitor.NewRedisMonitor(client, "chat-events", log)
//
// Parameters:
//   - client: Connected Redis client; ownership stays with the caller
//   - channel: Pub/sub channel name to publish to
//   - log: Logger for publish failures; a no-op logger if nil
//
// Returns:
//   - A new RedisMonitor instance
func NewRedisMonitor(client *redis.Client, channel string, log logger.Logger) *RedisMonitor {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &RedisMonitor{
		client:  client,
		channel: channel,
		timeout: DefaultPublishTimeout,
		log:     log,
	}
}

// Observe implements Monitor.
func (m *RedisMonitor) Observe(e Event) {
	payload, err := json.Marshal(redisEvent{
		Kind:      e.Kind.String(),
		Username:  e.Username,
		Recipient: e.Recipient,
		Detail:    e.Detail,
		Time:      e.Time,
	})
	if err != nil {
		m.log.Error("failed to marshal chat event", logger.Field{Key: "error", Value: err})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
		m.log.Error("failed to publish chat event",
			logger.Field{Key: "channel", Value: m.channel},
			logger.Field{Key: "error", Value: err},
		)
	}
}
