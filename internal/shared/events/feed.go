// Package events provides the observer primitive used for state-change
// notification between the session core and its consumers.
//
// Delivery contract:
//   - Emit invokes subscribers synchronously, in subscription order.
//   - A subscriber receives every emission made while it is subscribed
//     (at-least-once; emissions are never coalesced or dropped).
//   - After Cancel returns, future emissions do not reach the subscriber.
//     An Emit already in flight on another goroutine may still deliver.
//
// Subscribers re-query state rather than receiving payloads; the type
// parameter carries at most a property name.
package events

import "sync"

// Feed dispatches values of type T to its subscribers.
type Feed[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// NewFeed returns an empty feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{}
}

// Subscribe registers fn and returns a handle that detaches it. The handle
// must be cancelled when the subscriber goes away; feeds hold their
// subscribers for their whole lifetime otherwise.
func (f *Feed[T]) Subscribe(fn func(T)) *Subscription {
	f.mu.Lock()
	f.next++
	id := f.next
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	f.mu.Unlock()

	return &Subscription{cancel: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				return
			}
		}
	}}
}

// Emit delivers v to every current subscriber, in subscription order.
// Subscriber callbacks run on the emitting goroutine.
func (f *Feed[T]) Emit(v T) {
	f.mu.Lock()
	snapshot := make([]subscriber[T], len(f.subs))
	copy(snapshot, f.subs)
	f.mu.Unlock()

	for _, s := range snapshot {
		s.fn(v)
	}
}

// Len returns the current subscriber count.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Subscription detaches a subscriber from its feed.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the subscriber. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Signal is the payload for notifications that carry no data.
type Signal = struct{}
