package index

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"Provability/internal/escrow"
	"Provability/internal/logger"
)

// DefaultBuffer is the mirror queue length used when none is given.
const DefaultBuffer = 1024

// drainTimeout bounds how long Run keeps flushing after its context ends.
const drainTimeout = 5 * time.Second

// Mirror is an escrow.EventSink that forwards events to an Indexer on its own goroutine.
// Publish never blocks: when the queue is full the event is dropped with a warning.
type Mirror struct {
	idx     Indexer
	queue   chan escrow.Event
	dropped atomic.Uint64 // dropped counts events lost to a full queue
	failed  atomic.Uint64 // failed counts events the indexer rejected
	log     *slog.Logger
}

// NewMirror creates a mirror with a queue of buffer events.
func NewMirror(idx Indexer, buffer int) *Mirror {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	return &Mirror{
		idx:   idx,
		queue: make(chan escrow.Event, buffer),
		log:   logger.Component("index"),
	}
}

// Publish enqueues ev.
func (m *Mirror) Publish(ev escrow.Event) {
	select {
	case m.queue <- ev:
	default:
		m.dropped.Add(1)
		m.log.Warn("index queue full, dropping event", "kind", ev.Kind.String())
	}
}

// Run applies queued events until ctx ends, then flushes what is already queued.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-m.queue:
			m.apply(ctx, ev)
		case <-ctx.Done():
			m.drain()
			return nil
		}
	}
}

// drain flushes the queue with a fresh deadline.
func (m *Mirror) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-m.queue:
			m.apply(ctx, ev)
		default:
			return
		}
	}
}

func (m *Mirror) apply(ctx context.Context, ev escrow.Event) {
	if err := m.idx.Apply(ctx, ev); err != nil {
		m.failed.Add(1)
		m.log.Warn("index apply failed", "kind", ev.Kind.String(), "error", err)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (m *Mirror) Dropped() uint64 { return m.dropped.Load() }

// Failed returns how many events the indexer rejected.
func (m *Mirror) Failed() uint64 { return m.failed.Load() }
