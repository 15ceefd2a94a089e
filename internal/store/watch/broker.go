// Package watch turns collection change notifications into live query
// subscriptions that re-emit the full result set.
package watch

import (
	"context"
	"sync"
)

// Broker fans change notifications for a topic out to its subscribers.
// Notifications carry no payload; receivers re-run their query.
type Broker interface {
	Publish(ctx context.Context, topic string) error
	// Subscribe returns a channel that receives at least one value after every
	// Publish on topic, and a function that detaches it.
	Subscribe(topic string) (<-chan struct{}, func())
}

// LocalBroker delivers notifications inside one process.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *LocalBroker) Publish(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[topic] {
		signal(ch)
	}
	return nil
}

func (b *LocalBroker) Subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[topic] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[topic]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, topic)
				}
			}
		})
	}
}

// Subscribers reports how many receivers are attached to topic.
func (b *LocalBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// signal coalesces: a pending notification already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
