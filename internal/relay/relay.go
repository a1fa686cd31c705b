// Package relay fans one capture producer out to N subscribers with
// drop-oldest semantics: a slow consumer never blocks the producer and
// never sees more than one buffered frame at a time.
//
// A registry guarded by a mutex, with each subscription owning its own
// single-slot channel and done signal, lets many subscribers attach to
// and detach from one producer independently and cleanly.
package relay

import (
	"sync"
	"sync/atomic"

	"github.com/vrracer/camstream/internal/frame"
)

var subIDs atomic.Uint64

// Subscription is a handle with a 1-slot, drop-oldest buffer. Frames
// arrive on Frames(); the subscriber reads at its own pace. Only the last
// published frame is ever buffered — a new frame replaces whatever was
// waiting, so the subscriber's sequence is always a monotonic subsequence
// of the producer's stream, never a duplicate.
type Subscription struct {
	id     uint64
	ch     chan *frame.Frame
	done   chan struct{}
	closed atomic.Bool
}

func (s *Subscription) ID() uint64 { return s.id }

// Frames returns the channel to read delivered frames from. It is closed
// when the subscription is unsubscribed or the relay stops.
func (s *Subscription) Frames() <-chan *frame.Frame { return s.ch }

// Relay maps one producer to a dynamic set of subscriptions.
type Relay struct {
	mu   sync.RWMutex
	subs map[uint64]*Subscription
}

func New() *Relay {
	return &Relay{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscription. O(1), thread-safe.
func (r *Relay) Subscribe() *Subscription {
	sub := &Subscription{
		id:   subIDs.Add(1),
		ch:   make(chan *frame.Frame, 1),
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()
	return sub
}

// Publish delivers frame f to every current subscription. For each, it
// attempts a non-blocking send; on contention (the 1-slot buffer is full)
// it drains the stale frame and replaces it, so the subscriber always sees
// the newest frame rather than blocking the fan-out. O(N subscriptions).
func (r *Relay) Publish(f *frame.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		select {
		case sub.ch <- f:
		default:
			// Slot full: drop the stale frame, then store the new one.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- f:
			default:
			}
		}
	}
}

// Unsubscribe removes sub from the fan-out set and closes its channel.
// O(1), idempotent.
func (r *Relay) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	delete(r.subs, sub.id)
	r.mu.Unlock()
	close(sub.done)
	close(sub.ch)
}

// Count reports the current number of live subscriptions.
func (r *Relay) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Stop unsubscribes every live subscription, releasing all buffered
// frames.
func (r *Relay) Stop() {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()
	for _, sub := range subs {
		r.Unsubscribe(sub)
	}
}
