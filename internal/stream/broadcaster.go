// Package stream carries the engine's monitor mix to remote listeners over
// HTTP and WebRTC and brings a remote microphone back into the engine.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the listener queue length in 20ms frames.
const DefaultBuffer = 50

// Broadcaster fans rendered monitor frames out to listeners.
type Broadcaster struct {
	buffer int

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives monitor frames. Frames a slow listener cannot take are
// dropped and counted.
type Listener struct {
	C    chan []int16
	Kind string

	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
}

// Dropped returns how many frames the listener missed.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// NewBroadcaster creates a broadcaster whose listeners queue up to buffer
// frames.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		buffer:    buffer,
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener of the given transport kind.
func (b *Broadcaster) Subscribe(kind string) *Listener {
	l := &Listener{
		C:    make(chan []int16, b.buffer),
		Kind: kind,
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener. Calling it twice is harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of listeners, per kind.
func (b *Broadcaster) ListenerCount() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := make(map[string]int)
	for l := range b.listeners {
		counts[l.Kind]++
	}
	return counts
}

// Run fans frames from source out until ctx ends or source closes.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
