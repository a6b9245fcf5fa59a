// Package bus fans tick events out from the feed to independent consumers
// (websocket hub, redis publisher, relay mirrors).
package bus

import (
	"context"
	"log/slog"
	"sync"

	"synthfeed/internal/model"
)

// FanOut broadcasts tick events from a single input channel to N output
// channels. If an output channel is full the event is dropped for that
// consumer so a slow consumer never stalls the feed.
type FanOut struct {
	mu      sync.RWMutex
	outputs []subscriber
	bufSize int
	closed  bool

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(name string)
}

type subscriber struct {
	name string
	ch   chan model.TickEvent
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	if outputBufferSize < 1 {
		outputBufferSize = 1
	}
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new named output channel. Subscribing
// after Run has returned yields an already-closed channel.
func (f *FanOut) Subscribe(name string) <-chan model.TickEvent {
	ch := make(chan model.TickEvent, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.outputs = append(f.outputs, subscriber{name: name, ch: ch})
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every output.
func (f *FanOut) Run(ctx context.Context, input <-chan model.TickEvent) {
	defer func() {
		f.mu.Lock()
		f.closed = true
		for _, s := range f.outputs {
			close(s.ch)
		}
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			f.Publish(ev)
		}
	}
}

// Publish delivers ev to every subscriber without blocking.
func (f *FanOut) Publish(ev model.TickEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, s := range f.outputs {
		select {
		case s.ch <- ev:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			} else {
				slog.Warn("fanout subscriber full, dropping tick",
					slog.String("subscriber", s.name), slog.Int64("seq", ev.Seq))
			}
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, s := range f.outputs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
