package client

import "gitlab.com/paintwithbuddy/services/backend/pkg/models"

// Batcher queues locally drawn stroke segments between flushes. It is owned
// by the session loop and is not safe for concurrent use.
type Batcher struct {
	pending []models.DrawEvent
}

// Add queues ev for the next flush
func (b *Batcher) Add(ev models.DrawEvent) {
	b.pending = append(b.pending, ev)
}

// Take swaps out the pending queue. It returns nil when nothing is pending,
// so callers never send an empty batch.
func (b *Batcher) Take() []models.DrawEvent {
	if len(b.pending) == 0 {
		return nil
	}
	out := b.pending
	b.pending = nil
	return out
}

// Pending returns the queued events without dequeuing them. The slice is
// only valid until the next Add or Take.
func (b *Batcher) Pending() []models.DrawEvent {
	return b.pending
}

// Len returns the number of queued events
func (b *Batcher) Len() int {
	return len(b.pending)
}
