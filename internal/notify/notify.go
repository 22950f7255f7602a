// Package notify delivers export status events over each user's private
// Redis channel. Push delivery is best-effort; clients fall back to
// polling for correctness.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is the terminal-status payload pushed to the requesting user.
type Event struct {
	ExportID string `json:"exportId"`
	BookID   string `json:"bookId"`
	BookName string `json:"bookName"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Channel names the per-user private channel.
func Channel(userID string) string {
	return "user:" + userID + ":exports"
}

// RedisNotifier publishes and subscribes export events via Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisNotifier{client: client}, nil
}

// NewRedisNotifierWithClient wraps an existing client.
func NewRedisNotifierWithClient(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish pushes an event to the user's private channel. Failures are
// returned but safe to log-and-drop: polling guarantees delivery.
func (n *RedisNotifier) Publish(ctx context.Context, userID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, Channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe listens on a user's channel and forwards decoded events
// until the context is cancelled. Undecodable payloads are skipped.
func (n *RedisNotifier) Subscribe(ctx context.Context, userID string, events chan<- Event) error {
	sub := n.client.Subscribe(ctx, Channel(userID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Ping checks Redis reachability.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
