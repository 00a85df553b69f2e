// Package realtime pushes live queue updates to subscribed clients. The
// booking domain publishes through the Publisher interface; transports
// (in-process websocket hub, redis channel) are composed behind it.
package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QueueUpdate is the payload broadcast when a doctor advances their queue.
type QueueUpdate struct {
	DoctorID           uuid.UUID `json:"doctorId"`
	CurrentQueueNumber int       `json:"currentQueueNumber"`
	Message            string    `json:"message"`
}

// Publisher delivers a payload to a named topic. Delivery is best effort;
// callers must not treat an error as fatal to the operation that produced
// the update.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// QueueTopic names the per-doctor queue update channel.
func QueueTopic(doctorID uuid.UUID) string {
	return "queue-updates/" + doctorID.String()
}

// Fanout publishes to every underlying transport and reports the combined
// failures, if any.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, payload interface{}) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisPublisher mirrors queue updates onto redis pub/sub channels so
// subscribers on other instances receive them too.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, topic, data).Err()
}

// NewRedisClient parses a redis URL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
