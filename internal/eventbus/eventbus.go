// Package eventbus implements channel.Registry in process memory.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kilianp07/lastmile/core/channel"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 8

// ChannelBus fans events out to the subscriptions of each channel.
// Publishing is non-blocking: a subscription whose buffer is full misses the
// event.
type ChannelBus struct {
	mu     sync.RWMutex
	subs   map[channel.Name]map[*subscription]struct{}
	buffer int
	closed bool

	dropped atomic.Uint64
	onDrop  func(channel.Name)
}

// New creates a ChannelBus with buffers of DefaultBuffer events.
func New() *ChannelBus { return NewWithBuffer(DefaultBuffer) }

// NewWithBuffer creates a ChannelBus with the given subscription buffer size.
func NewWithBuffer(n int) *ChannelBus {
	if n <= 0 {
		n = DefaultBuffer
	}
	return &ChannelBus{subs: map[channel.Name]map[*subscription]struct{}{}, buffer: n}
}

var _ channel.Registry = (*ChannelBus)(nil)

// SetDropHandler registers a callback invoked for every dropped event. It
// runs on the publishing goroutine and must not block.
func (b *ChannelBus) SetDropHandler(fn func(channel.Name)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Dropped returns the number of events dropped so far.
func (b *ChannelBus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a subscription on channels. Subscribing after Close
// returns channel.ErrClosed.
func (b *ChannelBus) Subscribe(channels ...channel.Name) (channel.Subscription, error) {
	s := &subscription{
		bus:      b,
		ch:       make(chan channel.Message, b.buffer),
		channels: dedupe(channels),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, channel.ErrClosed
	}
	for _, n := range s.channels {
		set, ok := b.subs[n]
		if !ok {
			set = map[*subscription]struct{}{}
			b.subs[n] = set
		}
		set[s] = struct{}{}
	}
	return s, nil
}

// Publish delivers ev once to every subscription registered on any of
// channels.
func (b *ChannelBus) Publish(_ context.Context, ev channel.Event, channels ...channel.Name) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return channel.ErrClosed
	}
	var seen map[*subscription]struct{}
	if len(channels) > 1 {
		seen = map[*subscription]struct{}{}
	}
	for _, n := range channels {
		for s := range b.subs[n] {
			if seen != nil {
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
			}
			select {
			case s.ch <- channel.Message{Channel: n, Event: ev}:
			default:
				b.dropped.Add(1)
				if b.onDrop != nil {
					b.onDrop(n)
				}
			}
		}
	}
	return nil
}

// Subscribers returns the number of subscriptions on n.
func (b *ChannelBus) Subscribers(n channel.Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[n])
}

// Close ends every subscription. Further publishes fail with ErrClosed.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	done := map[*subscription]struct{}{}
	for _, set := range b.subs {
		for s := range set {
			if _, ok := done[s]; ok {
				continue
			}
			done[s] = struct{}{}
			s.closeLocked()
		}
	}
	b.subs = nil
	return nil
}

func (b *ChannelBus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, n := range s.channels {
		if set, ok := b.subs[n]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, n)
			}
		}
	}
	s.closeLocked()
}

type subscription struct {
	bus      *ChannelBus
	ch       chan channel.Message
	channels []channel.Name
	once     sync.Once
}

func (s *subscription) C() <-chan channel.Message { return s.ch }

func (s *subscription) Channels() []channel.Name {
	return append([]channel.Name(nil), s.channels...)
}

func (s *subscription) Unsubscribe() { s.bus.remove(s) }

// closeLocked closes the queue once; the bus lock must be held.
func (s *subscription) closeLocked() { s.once.Do(func() { close(s.ch) }) }

func dedupe(in []channel.Name) []channel.Name {
	out := make([]channel.Name, 0, len(in))
	seen := map[channel.Name]struct{}{}
	for _, n := range in {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
