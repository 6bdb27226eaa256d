// Package progress provides a terminal user interface for visualizing
// download and transaction progress.
package progress

import (
	"io"
	"sync"

	"github.com/vito/progrock"
)

// Feed is a progrock.Writer that buffers status updates for the TUI to
// consume. The tracer writes into it; the Bubble Tea model reads from it.
type Feed struct {
	mu     sync.Mutex
	ch     chan *progrock.StatusUpdate
	closed bool
}

// NewFeed creates a Feed.
func NewFeed() *Feed {
	return &Feed{ch: make(chan *progrock.StatusUpdate, 64)}
}

// WriteStatus queues one update. Updates are advisory: when the consumer
// stops reading (e.g. the user quit the view), they are dropped rather than
// blocking the transaction.
func (f *Feed) WriteStatus(update *progrock.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	select {
	case f.ch <- update:
	default:
	}
	return nil
}

// Close ends the stream; pending reads drain, then Read returns io.EOF.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

// Read returns the next update, or io.EOF once the feed is closed and
// drained.
func (f *Feed) Read() (*progrock.StatusUpdate, error) {
	update, ok := <-f.ch
	if !ok {
		return nil, io.EOF
	}
	return update, nil
}
