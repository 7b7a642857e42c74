package relay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// Subscriber feeds raw channel payloads to a handler until the context is
// cancelled. Payloads are passed through untouched; the display relay
// forwards them verbatim to every connected socket.
type Subscriber struct {
	client  *redis.Client
	channel string
}

func NewSubscriber(client *redis.Client, channel string) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{client: client, channel: channel}
}

func (s *Subscriber) Run(ctx context.Context, handle func(payload []byte)) error {
	sub := s.client.Subscribe(ctx, s.channel)
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
			handle([]byte(msg.Payload))
		}
	}
}
