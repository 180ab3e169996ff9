package engagement

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type debounceEntry struct {
	topic string
	event any
}

// Debouncer coalesces per-target broadcast descriptors into bounded-rate
// realtime emissions. Descriptors submitted for the same (topic, kind)
// within one interval collapse to a single publish carrying the most
// recent snapshot. The final state of a burst is always emitted; an
// emission per individual event is deliberately not guaranteed.
type Debouncer struct {
	broadcaster Broadcaster
	interval    time.Duration

	mu      sync.Mutex
	pending map[string]debounceEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDebouncer creates a debouncer flushing on the given micro-interval.
func NewDebouncer(broadcaster Broadcaster, interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &Debouncer{
		broadcaster: broadcaster,
		interval:    interval,
		pending:     make(map[string]debounceEntry),
	}
}

// Start launches the flusher goroutine. It runs until the context is
// cancelled or Close is called.
func (d *Debouncer) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				d.flush(context.Background())
				return
			case <-ticker.C:
				d.flush(ctx)
			}
		}
	}()
}

// Submit records a broadcast descriptor, replacing any unsent snapshot
// for the same topic and event kind. Never blocks.
func (d *Debouncer) Submit(topic, kind string, event any) {
	d.mu.Lock()
	d.pending[topic+"|"+kind] = debounceEntry{topic: topic, event: event}
	d.mu.Unlock()
}

// Close stops the flusher after emitting whatever is still pending.
func (d *Debouncer) Close() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// flush swaps out the pending map and publishes each coalesced snapshot.
func (d *Debouncer) flush(ctx context.Context) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = make(map[string]debounceEntry, len(batch))
	d.mu.Unlock()

	for _, entry := range batch {
		if err := d.broadcaster.Publish(ctx, entry.topic, entry.event); err != nil {
			slog.Error("debounced broadcast failed", "topic", entry.topic, "error", err)
		}
	}
}
