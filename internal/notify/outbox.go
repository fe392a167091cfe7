// Package notify carries outbound notifications from the API to delivery
// workers through a Redis list.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one outbound notification. Delivery is at-most-once.
type Message struct {
	ID             string    `json:"id"`
	RecipientID    string    `json:"recipient_id"`
	RecipientName  string    `json:"recipient_name"`
	RecipientEmail string    `json:"recipient_email"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// Outbox is a FIFO queue of Messages stored in a Redis list.
type Outbox struct {
	client *redis.Client
	key    string
}

// NewOutbox connects to Redis and verifies the connection.
func NewOutbox(redisURL, key string) (*Outbox, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewOutboxWithClient(client, key), nil
}

// NewOutboxWithClient wraps an existing Redis client.
func NewOutboxWithClient(client *redis.Client, key string) *Outbox {
	if key == "" {
		key = "kilnguard:outbox"
	}
	return &Outbox{client: client, key: key}
}

// Send enqueues a message.
func (o *Outbox) Send(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := o.client.LPush(ctx, o.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}

// Receive blocks up to timeout for the oldest message. ok is false when the
// wait timed out.
func (o *Outbox) Receive(ctx context.Context, timeout time.Duration) (msg Message, ok bool, err error) {
	values, err := o.client.BRPop(ctx, timeout, o.key).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("dequeue message: %w", err)
	}
	// BRPOP returns [key, value].
	if len(values) != 2 {
		return Message{}, false, fmt.Errorf("dequeue message: unexpected reply length %d", len(values))
	}
	if err := json.Unmarshal([]byte(values[1]), &msg); err != nil {
		return Message{}, false, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg, true, nil
}

// Len reports the number of queued messages.
func (o *Outbox) Len(ctx context.Context) (int64, error) {
	return o.client.LLen(ctx, o.key).Result()
}

func (o *Outbox) Ping(ctx context.Context) error {
	return o.client.Ping(ctx).Err()
}

func (o *Outbox) Close() error {
	return o.client.Close()
}
