package collection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher pushes notifications over redis pub/sub for players with
// a live session subscribed to their channel. It is an optional
// capability: when no redis address is configured the engine runs without
// it and every notification goes through the durable queue.
type RedisPublisher struct {
	client *redis.Client
	sound  string
}

type liveMessage struct {
	Key   string            `json:"key"`
	Data  map[string]string `json:"data"`
	Sound string            `json:"sound,omitempty"`
}

// NewRedisPublisher connects to redis, returning an error when the server
// is unreachable so the caller can fall back to queue-only delivery.
func NewRedisPublisher(addr, sound string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisPublisher{client: client, sound: sound}, nil
}

// Publish sends the message to the player's channel and reports how many
// subscribers received it.
func (p *RedisPublisher) Publish(playerID, key string, data map[string]string) (int64, error) {
	payload, err := json.Marshal(liveMessage{Key: key, Data: data, Sound: p.sound})
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.client.Publish(ctx, "auction.notify."+playerID, payload).Result()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
