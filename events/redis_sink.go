package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

const DefaultStream = "ledger:events"

// RedisSink appends events to a Redis stream. Entry ids are derived from the
// outbox sequence ("<seq>-0"), so redelivered events are dropped by Redis.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink connects to url (redis://...) and checks connectivity.
func NewRedisSink(ctx context.Context, url, stream string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisSinkFromClient(client, stream), nil
}

func NewRedisSinkFromClient(client *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream}
}

func (s *RedisSink) Name() string { return "redis:" + s.stream }

func (s *RedisSink) Publish(ctx context.Context, events []interfaces.Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", ev.Seq, err)
		}

		err = s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			ID:     fmt.Sprintf("%d-0", ev.Seq),
			Values: map[string]any{
				"kind":    string(ev.Kind),
				"payload": payload,
			},
		}).Err()
		if err != nil && !isDuplicateEntry(err) {
			return fmt.Errorf("xadd event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func isDuplicateEntry(err error) bool {
	return strings.Contains(err.Error(), "equal or smaller than the target stream top item")
}
