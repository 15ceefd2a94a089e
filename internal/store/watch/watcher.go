package watch

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Start opens a live query: fetch runs once right away and again after every
// notification on topic, and onNext receives each result set that differs
// from the previous one. A fetch error is passed to onError and ends the
// subscription. Callbacks run on one goroutine, one at a time. The returned
// stop function is idempotent, does not block, and may be called from inside
// a callback.
func Start[T any](
	broker Broker,
	topic string,
	fetch func(ctx context.Context) ([]T, error),
	onNext func([]T),
	onError func(error),
) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var stopped atomic.Bool

	// Attach before the first fetch so no change slips between the two.
	changes, detach := broker.Subscribe(topic)

	go func() {
		defer detach()

		var last []T
		emitted := false
		for {
			items, err := fetch(ctx)
			if stopped.Load() || ctx.Err() != nil {
				return
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			if items == nil {
				items = []T{}
			}
			if !emitted || !reflect.DeepEqual(items, last) {
				emitted = true
				last = items
				onNext(items)
			}

			select {
			case <-ctx.Done():
				return
			case <-changes:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			cancel()
		})
	}
}
