// Package broadcast implements a replaying multi-consumer broadcast.
//
// Replay keeps the latest published value and delivers it first to every new
// subscriber. Publishing never blocks: every subscriber has its own unbounded
// queue drained by a dedicated goroutine, so a stalled reader costs memory but
// never stalls the writer.
package broadcast

import (
	"fmt"
	"sync"

	"gopkg.in/tomb.v2"
)

type (
	// Replay is a multi-consumer broadcast with replay depth 1.
	Replay[T any] struct {
		mu     sync.Mutex
		name   string
		latest T
		// latest is set
		hasLatest bool
		subs      map[*Subscription[T]]struct{}
		// terminal error, not nil once closed
		err error
	}

	// Subscription receives published values in order.
	Subscription[T any] struct {
		tomb   tomb.Tomb
		parent *Replay[T]
		out    chan T
		notify chan struct{}
		//
		mu       sync.Mutex
		queue    []T
		terminal bool
		err      error
	}
)

// String implements the stringer interface.
func (r *Replay[T]) String() string {
	return fmt.Sprintf("Replay (%s)", r.name)
}

// Publish stores v as the latest value and enqueues it for all subscribers.
// Values published after Terminate / Release are dropped.
func (r *Replay[T]) Publish(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}

	r.latest, r.hasLatest = v, true
	for sub := range r.subs {
		sub.push(v)
	}
}

// Latest returns the latest published value (if any).
func (r *Replay[T]) Latest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.latest, r.hasLatest
}

// Subscribe creates a new Subscription.
// The latest published value (if any) is the first one delivered.
func (r *Replay[T]) Subscribe() *Subscription[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Subscription[T]{
		parent: r,
		out:    make(chan T),
		notify: make(chan struct{}, 1),
	}
	if r.hasLatest {
		sub.queue = append(sub.queue, r.latest)
	}

	if r.err != nil {
		sub.finish(r.err, false)
	}
	// Finished subscriptions are registered too: Release must stop them while the replayed value is unread
	r.subs[sub] = struct{}{}
	sub.tomb.Go(sub.loop)

	return sub
}

// Terminate closes the broadcast with a terminal error.
// Subscribers receive the already queued values before their channel is closed.
func (r *Replay[T]) Terminate(err error) {
	if err == nil {
		panic("broadcast: Terminate with nil error")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	r.err = err

	for sub := range r.subs {
		sub.finish(err, false)
	}
}

// Release closes the broadcast dropping all the queued values and waits for subscriber goroutines to exit.
// Safe to call multiple times and after Terminate.
func (r *Replay[T]) Release(err error) {
	if err == nil {
		panic("broadcast: Release with nil error")
	}

	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	subs := make([]*Subscription[T], 0, len(r.subs))
	for sub := range r.subs {
		sub.finish(r.err, true)
		subs = append(subs, sub)
	}
	var zero T
	r.latest, r.hasLatest = zero, false
	r.mu.Unlock()

	// Subscriptions remove themselves from r.subs on exit, so wait without the lock
	for _, sub := range subs {
		sub.tomb.Kill(nil)
		_ = sub.tomb.Wait()
	}
}

// SubscribersCount returns the number of active subscriptions.
func (r *Replay[T]) SubscribersCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.subs)
}

func (r *Replay[T]) remove(sub *Subscription[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, sub)
}

// Changes returns the values channel; it is closed once the subscription ends.
func (s *Subscription[T]) Changes() <-chan T {
	return s.out
}

// Err returns the terminal error of the broadcast once the subscription has been finished by the publisher.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close unsubscribes dropping the queued values.
func (s *Subscription[T]) Close() {
	s.tomb.Kill(nil)
	_ = s.tomb.Wait()
}

// push enqueues a value; never blocks.
func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	s.kick()
}

// finish marks the subscription as terminated by the publisher.
func (s *Subscription[T]) finish(err error, drop bool) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.terminal = true
	if drop {
		s.queue = nil
	}
	s.mu.Unlock()

	s.kick()
}

func (s *Subscription[T]) kick() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next pops the queue head.
func (s *Subscription[T]) next() (v T, ok bool, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return v, false, s.terminal
	}

	v = s.queue[0]
	var zero T
	s.queue[0] = zero
	s.queue = s.queue[1:]

	return v, true, false
}

// loop does the actual delivery job.
func (s *Subscription[T]) loop() error {
	defer s.parent.remove(s)
	defer close(s.out)

	for {
		v, ok, done := s.next()
		if done {
			return nil
		}
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.tomb.Dying():
				return nil
			}
		}

		select {
		case s.out <- v:
		case <-s.tomb.Dying():
			return nil
		}
	}
}

// NewReplay creates a new Replay object.
func NewReplay[T any](name string) *Replay[T] {
	return &Replay[T]{
		name: name,
		subs: make(map[*Subscription[T]]struct{}),
	}
}
