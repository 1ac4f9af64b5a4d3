// Package batch provides the size-or-time bounded buffer between the
// consumption loop and the event store.
package batch

import (
	"time"

	"github.com/cartpulse/cartpulse-stack/common/messaging"
	"github.com/cartpulse/cartpulse-stack/common/models"
)

// Entry couples a derived event with the delivery it came from, so a
// flush can acknowledge exactly the messages it persisted.
type Entry struct {
	Event    models.RawEvent
	Delivery messaging.Delivery
}

// Buffer accumulates entries until it is full or its oldest entry has
// waited past the timeout. Owned by a single consumption loop; not safe
// for concurrent use.
type Buffer struct {
	maxSize int
	timeout time.Duration

	entries []Entry
	firstAt time.Time
}

// New creates a buffer that triggers at maxSize entries or timeout after
// the first buffered entry, whichever comes first.
func New(maxSize int, timeout time.Duration) *Buffer {
	return &Buffer{
		maxSize: maxSize,
		timeout: timeout,
		entries: make([]Entry, 0, maxSize),
	}
}

// Append adds an entry. The timeout clock starts when the first entry
// lands in an empty buffer.
func (b *Buffer) Append(e Entry) {
	if len(b.entries) == 0 {
		b.firstAt = time.Now()
	}
	b.entries = append(b.entries, e)
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// ShouldFlush reports whether the buffer is full or has aged past the
// timeout. An empty buffer never flushes.
func (b *Buffer) ShouldFlush(now time.Time) bool {
	if len(b.entries) == 0 {
		return false
	}
	if len(b.entries) >= b.maxSize {
		return true
	}
	return now.Sub(b.firstAt) >= b.timeout
}

// Swap returns the buffered entries and resets the buffer, so the
// caller flushes a stable snapshot while new entries accumulate.
func (b *Buffer) Swap() []Entry {
	out := b.entries
	b.entries = make([]Entry, 0, b.maxSize)
	b.firstAt = time.Time{}
	return out
}
