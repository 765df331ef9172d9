package bus

import (
	"context"
	"sync"
)

// Tap returns a buffered stream of every event that passes through the bus,
// local or outbound. The returned func unsubscribes and closes the channel.
func (b *Bus) Tap(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := b.nextTapID
	b.nextTapID++
	b.taps[id] = ch
	b.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			b.mu.Lock()
			if tapCh, ok := b.taps[id]; ok {
				delete(b.taps, id)
				close(tapCh)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-b.done:
			unsubscribe()
		case <-stop:
		}
	}()

	return ch, unsubscribe
}

func (b *Bus) publishTap(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.taps {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow taps.
		}
	}
}
