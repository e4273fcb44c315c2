package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ymazrouei/souqstream/server/broker"
)

// streamMaxLen caps each per-channel stream; trimming is approximate so
// Redis can drop whole macro nodes cheaply.
const streamMaxLen = 100000

// RedisSink archives delivered events to per-channel Redis Streams
// (souqstream:events:<channel>). Consumers replaying history read the
// streams directly; the broker never does.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(addr, password string, db int) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisSink{client: client}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Archive(ctx context.Context, channelID string, ev *broker.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: "souqstream:events:" + channelID,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":  ev.ID,
			"type":      string(ev.Type),
			"source":    ev.Source,
			"priority":  ev.Priority.String(),
			"payload":   string(payload),
			"timestamp": ev.Timestamp.UnixMilli(),
		},
	}).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
