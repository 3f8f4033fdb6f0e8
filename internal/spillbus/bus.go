// Package spillbus implements the bounded spill event bus: a fixed pool of
// worker goroutines draining a bounded queue of spill messages, with
// non-blocking publish so a full queue becomes producer-visible
// backpressure instead of a stall.
package spillbus

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/pool"

	"github.com/rshuffle/worker/internal/metrics"
	"github.com/rshuffle/worker/internal/shuffle"
)

// ErrBusFull is returned by Publish when the queue has no free slot.
var ErrBusFull = errors.New("spill bus queue is full")

// Handler processes one spill message. Subscribers process messages
// sequentially within each worker; ordering across workers is not
// guaranteed and the bus does not require it.
type Handler func(ctx context.Context, msg shuffle.SpillMessage)

// Bus is a bounded FIFO plus a fixed worker pool, sized at
// memory_spill_max_concurrency.
type Bus struct {
	queue   chan shuffle.SpillMessage
	pool    *pool.Pool
	handler Handler
	m       *metrics.Registry
}

// New builds a Bus with the given queue capacity; Start launches its
// workers.
func New(capacity int, m *metrics.Registry, handler Handler) *Bus {
	return &Bus{
		queue:   make(chan shuffle.SpillMessage, capacity),
		handler: handler,
		m:       m,
	}
}

// Start launches workers worker goroutines, each draining the queue until
// it is closed or ctx is done.
func (b *Bus) Start(ctx context.Context, workers int) {
	b.pool = pool.New().WithMaxGoroutines(workers)

	for i := 0; i < workers; i++ {
		b.pool.Go(func() {
			b.drain(ctx)
		})
	}
}

func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.queue:
			if !ok {
				return
			}

			b.handler(ctx, msg)
		}
	}
}

// Publish enqueues msg, failing immediately with ErrBusFull rather than
// blocking the watermark spill pass that produced it.
func (b *Bus) Publish(msg shuffle.SpillMessage) error {
	select {
	case b.queue <- msg:
		return nil
	default:
		if b.m != nil {
			b.m.SpillBusDropped.Inc()
		}

		return ErrBusFull
	}
}

// Stop closes the queue and waits for every worker to drain it.
func (b *Bus) Stop() {
	close(b.queue)

	if b.pool != nil {
		b.pool.Wait()
	}
}
