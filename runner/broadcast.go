package runner

import (
	"sync"
	"time"
)

// DefaultPublishInterval is the minimum time between two snapshots sent to
// subscribers while a run is in progress.
const DefaultPublishInterval = 50 * time.Millisecond

// Subscription receives the snapshots of one run.
// Its mailbox holds at most one snapshot: a newer snapshot replaces one that has
// not been read yet, so a slow reader only ever skips intermediate states.
// The channel is closed after the final snapshot of the run.
type Subscription struct {
	ch      chan Snapshot
	b       *broadcaster
	version uint64
	closed  bool
}

// C returns the mailbox channel
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Close detaches the subscription. It never affects the run.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// broadcaster fans snapshots out to subscribers. Snapshots are built by source,
// and only when someone is subscribed. Changes are coalesced so that at most one
// snapshot is built per interval; the latest state is always sent eventually.
type broadcaster struct {
	source   func() Snapshot
	interval time.Duration

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	final     *Snapshot
	closed    bool
	lastFlush time.Time
	timer     *time.Timer
}

func newBroadcaster(source func() Snapshot, interval time.Duration) *broadcaster {
	return &broadcaster{
		source:   source,
		interval: interval,
		subs:     make(map[*Subscription]struct{}),
	}
}

func (b *broadcaster) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ch: make(chan Snapshot, 1), b: b}
	if b.closed {
		if b.final != nil {
			sub.ch <- *b.final
		}
		sub.closed = true
		close(sub.ch)
		return sub
	}
	snap := b.source()
	sub.version = snap.Version
	sub.ch <- snap
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	delete(b.subs, sub)
	sub.closed = true
	close(sub.ch)
}

// notify records that the run changed. It never blocks on subscribers and does
// no work while nobody is subscribed.
func (b *broadcaster) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.subs) == 0 || b.timer != nil {
		return
	}
	wait := b.interval - time.Since(b.lastFlush)
	if wait <= 0 {
		b.flushLocked()
		return
	}
	b.timer = time.AfterFunc(wait, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.timer = nil
		b.flushLocked()
	})
}

func (b *broadcaster) flushLocked() {
	if b.closed || len(b.subs) == 0 {
		return
	}
	b.deliverLocked(b.source())
	b.lastFlush = time.Now()
}

// deliverLocked replaces any unread snapshot. Only the broadcaster sends while
// holding mu, so the slot is free after draining it.
func (b *broadcaster) deliverLocked(snap Snapshot) {
	for sub := range b.subs {
		if snap.Version <= sub.version {
			continue
		}
		sub.version = snap.Version
		select {
		case sub.ch <- snap:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snap
	}
}

// close sends the final snapshot to every subscriber and closes their mailboxes.
// Later subscribers receive the final snapshot only.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	final := b.source()
	b.final = &final
	b.deliverLocked(final)
	b.closed = true
	for sub := range b.subs {
		sub.closed = true
		close(sub.ch)
	}
	b.subs = nil
}
