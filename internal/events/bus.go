// Package events implements the per-match broadcast bus that live observers
// attach to and that gates whether a match loop keeps running.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Bus fans serialized events out to any number of subscribers per match
// code. Events published while a code has no subscribers are dropped; there
// is no history replay. A single Bus instance is constructed at process
// start and passed by reference to everything that needs it.
type Bus struct {
	mu     sync.Mutex
	rooms  map[string]*room
	logger *zap.Logger
}

type room struct {
	subs []*Subscriber
	// attached is closed on every 0→1 subscriber transition and replaced
	// with a fresh channel when the room empties. Match loops select on it
	// while waiting for a first observer.
	attached chan struct{}
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{rooms: make(map[string]*room), logger: logger}
}

// Subscriber is one observer's ordered, unbounded event queue. Every event
// broadcast after Subscribe and before Close is delivered exactly once, in
// publish order.
type Subscriber struct {
	bus  *Bus
	code string

	mu     sync.Mutex
	queue  [][]byte
	wake   chan struct{}
	closed bool
}

// Subscribe attaches a new observer to a match code.
func (b *Bus) Subscribe(code string) *Subscriber {
	sub := &Subscriber{bus: b, code: code, wake: make(chan struct{}, 1)}

	b.mu.Lock()
	r := b.rooms[code]
	if r == nil {
		r = &room{attached: make(chan struct{})}
		b.rooms[code] = r
	}
	r.subs = append(r.subs, sub)
	if len(r.subs) == 1 {
		close(r.attached)
	}
	b.mu.Unlock()
	return sub
}

// Broadcast serializes the event and delivers it to every subscriber
// currently attached to the code. With no subscribers it is a no-op and the
// event is lost.
func (b *Bus) Broadcast(code string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal event", zap.String("code", code), zap.String("event", ev.EventType()), zap.Error(err))
		return
	}

	b.mu.Lock()
	r := b.rooms[code]
	var subs []*Subscriber
	if r != nil {
		subs = append(subs, r.subs...)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(data)
	}
}

// SubscriberCount returns the current attachment count for a code. The
// value is a liveness hint only; a subscriber can detach right after it is
// read.
func (b *Bus) SubscriberCount(code string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r := b.rooms[code]; r != nil {
		return len(r.subs)
	}
	return 0
}

// Attached returns a channel that is closed once the code has at least one
// subscriber. If one is already attached the returned channel is closed
// already.
func (b *Bus) Attached(code string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rooms[code]
	if r == nil {
		r = &room{attached: make(chan struct{})}
		b.rooms[code] = r
	}
	return r.attached
}

// CloseAll terminates every subscriber stream for a code. Subscribers see a
// clean end-of-stream after draining what was already queued.
func (b *Bus) CloseAll(code string) {
	b.mu.Lock()
	r := b.rooms[code]
	var subs []*Subscriber
	if r != nil {
		subs = append(subs, r.subs...)
		delete(b.rooms, code)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.terminate()
	}
}

// Codes lists match codes that currently have a room (subscribers attached
// or a loop waiting for them).
func (b *Bus) Codes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	codes := make([]string, 0, len(b.rooms))
	for c := range b.rooms {
		codes = append(codes, c)
	}
	return codes
}

func (b *Bus) detach(code string, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rooms[code]
	if r == nil {
		return
	}
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			break
		}
	}
	if len(r.subs) == 0 {
		delete(b.rooms, code)
	}
}

func (s *Subscriber) push(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, data)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the stream is closed, or ctx is
// done. The second return is false once the stream has ended and the queue
// is drained.
func (s *Subscriber) Next(ctx context.Context) ([]byte, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			data := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return data, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-s.wake:
		}
	}
}

// Close detaches the subscriber from the bus. Safe to call more than once.
func (s *Subscriber) Close() {
	s.bus.detach(s.code, s)
	s.terminate()
}

func (s *Subscriber) terminate() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}
