// Package broadcaster fans out a single ordered byte stream to many
// concurrent subscribers with instant replay for late joiners (SPEC_FULL
// §4.1). It generalises the teacher's internal/radio/stream.go
// Broadcaster/clientSub/broadcastWriter trio: the same non-blocking,
// per-client buffered-channel publish loop, extended with a bounded replay
// ring (the teacher has none — callers always started mid-track) and an
// explicit per-subscription dropped-chunk counter.
package broadcaster

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Publish once the broadcaster has been closed.
// Publishing after close is a no-op error. Subscribing after close instead
// returns an already-closed Subscription (see Subscribe).
var ErrClosed = errors.New("broadcaster: closed")

// Broadcaster owns the replay buffer and the set of active subscriptions. A
// zero-capacity broadcaster (replayChunks == 0) keeps no replay history and
// simply relays live chunks to whoever is subscribed at publish time.
type Broadcaster struct {
	mu         sync.Mutex
	replay     [][]byte
	replayCap  int
	queueDepth int
	subs       map[uint64]*Subscription
	nextID     uint64
	closed     bool
}

// New creates a Broadcaster with the given replay buffer capacity (in
// chunks) and per-subscription queue depth (§3: ReplayBuffer ≈ 100 chunks,
// ClientSubscription ≈ 100 chunks).
func New(replayChunks, queueDepth int) *Broadcaster {
	if replayChunks < 0 {
		replayChunks = 0
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Broadcaster{
		replay:     make([][]byte, 0, replayChunks),
		replayCap:  replayChunks,
		queueDepth: queueDepth,
		subs:       make(map[uint64]*Subscription),
	}
}

// Publish appends chunk to the replay buffer (evicting the oldest chunk if
// full, FIFO) and attempts a non-blocking send into every active
// subscription. A subscription whose queue is full has its oldest queued
// chunk dropped to make room — the slow-consumer policy — so a stalled
// client never blocks the producer or other clients. Publishing after close
// is a no-op that returns ErrClosed.
func (b *Broadcaster) Publish(chunk []byte) error {
	// Copy so the caller can reuse its buffer and callers of Next each get a
	// stable, independent slice.
	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if b.replayCap > 0 {
		if len(b.replay) >= b.replayCap {
			b.replay = b.replay[1:]
		}
		b.replay = append(b.replay, cp)
	}

	for _, sub := range b.subs {
		sub.deliver(cp)
	}
	return nil
}

// deliver attempts a non-blocking send; on a full queue it drops the oldest
// queued chunk and retries once, preserving recency per the slow-consumer
// policy (§4.1).
func (s *Subscription) deliver(chunk []byte) {
	select {
	case s.ch <- chunk:
		return
	default:
	}

	// Queue full: drop the oldest queued chunk, then enqueue the new one.
	select {
	case <-s.ch:
		s.incDropped()
	default:
		// Channel drained concurrently by the reader; fall through to send.
	}

	select {
	case s.ch <- chunk:
	default:
		// Reader raced us and filled it again; count this chunk as dropped
		// rather than spin — still respects "no duplicate within a
		// subscription" and "contiguous subsequence" guarantees.
		s.incDropped()
	}
}

// Subscribe snapshots the current replay buffer into a new bounded
// subscription and adds it to the active set, under a single critical
// section so the snapshot and the start of live delivery never race with a
// concurrent Publish. If the broadcaster is already closed, the returned
// Subscription is already closed (Next returns ok=false immediately).
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id: b.nextID,
		ch: make(chan []byte, b.queueDepth),
		b:  b,
	}
	b.nextID++

	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	for _, chunk := range b.replay {
		// The channel is freshly made with capacity == queueDepth. When
		// replayCap > queueDepth the replay does not fit: the select's
		// default case drops the newest replay chunks that exceed the
		// capacity and counts them as dropped, so this never blocks.
		select {
		case sub.ch <- chunk:
		default:
			sub.incDropped()
		}
	}

	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub from the active set and marks it closed; any
// in-flight or future Next() call returns ok=false. Safe to call more than
// once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(sub)
}

func (b *Broadcaster) unsubscribeLocked(sub *Subscription) {
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	sub.mu.Unlock()
}

// Close marks the broadcaster closed and closes every active subscription.
// Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
	b.subs = make(map[uint64]*Subscription)
}

// ActiveSubscriptions returns the number of currently subscribed clients.
func (b *Broadcaster) ActiveSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is a single consumer's bounded view of the broadcast.
type Subscription struct {
	id      uint64
	ch      chan []byte
	mu      sync.Mutex
	closed  bool
	dropped int

	b *Broadcaster
}

// Next blocks until a chunk is available or the subscription is closed.
// Returns ok == false once closed, with no further chunks delivered.
func (s *Subscription) Next() (chunk []byte, ok bool) {
	chunk, ok = <-s.ch
	return chunk, ok
}

// Dropped returns the number of chunks dropped for this subscription by the
// slow-consumer policy so far.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) incDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Unsubscribe removes this subscription from its broadcaster and marks it
// closed. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.b.Unsubscribe(s)
}
