// Package redisbroker carries store change notifications over redis pub/sub
// so live queries on every server instance see writes made by the others.
package redisbroker

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/universalathletics/inbox/internal/store/watch"
)

const DefaultPrefix = "inbox:changes:"

type Broker struct {
	client *redis.Client
	prefix string
	pubsub *redis.PubSub
	local  *watch.LocalBroker
	done   chan struct{}
}

// New subscribes to every topic under prefix and starts relaying
// notifications to local subscribers.
func New(ctx context.Context, client *redis.Client, prefix string) (*Broker, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	pubsub := client.PSubscribe(ctx, prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s*: %w", prefix, err)
	}

	b := &Broker{
		client: client,
		prefix: prefix,
		pubsub: pubsub,
		local:  watch.NewLocalBroker(),
		done:   make(chan struct{}),
	}
	go b.relay()
	return b, nil
}

func (b *Broker) relay() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		topic := strings.TrimPrefix(msg.Channel, b.prefix)
		if err := b.local.Publish(context.Background(), topic); err != nil {
			log.Printf("redis broker relay %s: %v", topic, err)
		}
	}
}

func (b *Broker) Publish(ctx context.Context, topic string) error {
	return b.client.Publish(ctx, b.prefix+topic, topic).Err()
}

func (b *Broker) Subscribe(topic string) (<-chan struct{}, func()) {
	return b.local.Subscribe(topic)
}

func (b *Broker) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}
