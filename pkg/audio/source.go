// Package audio provides the audio-source contract and the PCM plumbing shared
// by the Earshot pipeline: sample-format conversion, resampling, and the
// amortized sample deque backing the frame batcher.
//
// All pipeline-internal audio is mono float32 PCM at 16 kHz. Adapters (such as
// the Discord source in the discord subpackage) convert from their native
// format before publishing chunks.
package audio

import (
	"sync"

	"github.com/earshot-ai/earshot/pkg/types"
)

// subscriberBuffer is the channel depth handed to each subscriber. Deep enough
// to absorb scheduling jitter; chunks are dropped, not blocked on, when a
// subscriber falls this far behind.
const subscriberBuffer = 64

// Source is an event emitter delivering raw audio chunks by push. The pipeline
// never polls a source; it subscribes once and consumes the returned channel
// until it unsubscribes or the source closes.
type Source interface {
	// Subscribe registers a new listener and returns its subscription.
	// Multiple subscribers receive every chunk independently.
	Subscribe() Subscription
}

// Subscription is one listener's view of a [Source].
type Subscription interface {
	// Chunks returns the receive channel for this subscription. The channel
	// is closed when the subscription is cancelled or the source shuts down.
	Chunks() <-chan types.AudioChunk

	// Unsubscribe detaches the listener and closes its channel. Safe to call
	// more than once.
	Unsubscribe()
}

// Broadcaster is a fan-out helper implementing [Source]. Adapters publish
// chunks with [Broadcaster.Publish]; each subscriber gets its own buffered
// channel. A slow subscriber loses chunks rather than stalling the publisher.
//
// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*broadcastSub]struct{}
	closed bool
}

// NewBroadcaster returns an empty Broadcaster ready for subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*broadcastSub]struct{})}
}

// Subscribe implements [Source]. Subscribing to a closed Broadcaster returns
// a subscription whose channel is already closed.
func (b *Broadcaster) Subscribe() Subscription {
	s := &broadcastSub{
		owner: b,
		ch:    make(chan types.AudioChunk, subscriberBuffer),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers chunk to every current subscriber. Subscribers with a full
// buffer are skipped. Publishing to a closed Broadcaster is a no-op.
func (b *Broadcaster) Publish(chunk types.AudioChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- chunk:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches and closes every subscription. Safe to call more than once.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

type broadcastSub struct {
	owner *Broadcaster
	ch    chan types.AudioChunk
	once  sync.Once
}

func (s *broadcastSub) Chunks() <-chan types.AudioChunk { return s.ch }

func (s *broadcastSub) Unsubscribe() {
	s.once.Do(func() {
		s.owner.mu.Lock()
		if _, ok := s.owner.subs[s]; ok {
			delete(s.owner.subs, s)
			close(s.ch)
		}
		s.owner.mu.Unlock()
	})
}
