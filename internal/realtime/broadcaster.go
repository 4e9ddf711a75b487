// Package realtime fans round events out to connected clients.
package realtime

import (
	"errors"
	"log"
	"sync"
	"time"

	"crash-game/internal/metrics"

	"github.com/google/uuid"
)

var (
	// ErrReplayUnavailable means the requested range is no longer (or was
	// never) in this instance's history; the client must take a snapshot
	ErrReplayUnavailable = errors.New("replay unavailable")
	// ErrSlowConsumer ends a subscription whose buffer filled up
	ErrSlowConsumer = errors.New("subscriber dropped: too slow")
	ErrClosed       = errors.New("broadcaster closed")
)

const (
	DefaultHistorySize = 4096
	DefaultBufferSize  = 256
)

// Subscription receives events published after it was created
type Subscription struct {
	b    *Broadcaster
	ch   chan Event
	done chan struct{}
	once sync.Once
	err  error
}

// Events returns the event channel. It is never closed; select on Done.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended, valid after Done is closed
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close unsubscribes
func (s *Subscription) Close() {
	s.b.mu.Lock()
	s.b.removeLocked(s, nil)
	s.b.mu.Unlock()
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Broadcaster assigns gapless increasing IDs to published events, keeps a
// bounded history for replay and maintains the snapshot view. IDs restart
// with a new epoch on every process start.
type Broadcaster struct {
	mu      sync.Mutex
	epoch   string
	lastID  uint64
	ring    []Event
	start   int
	size    int
	subs    map[*Subscription]struct{}
	bufSize int
	view    viewState
	closed  bool
	now     func() time.Time
}

// NewBroadcaster creates a broadcaster with the given history and
// per-subscriber buffer sizes
func NewBroadcaster(historySize, bufferSize int) *Broadcaster {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		epoch:   uuid.New().String(),
		ring:    make([]Event, historySize),
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufferSize,
		now:     time.Now,
	}
}

// Epoch identifies this instance's ID sequence
func (b *Broadcaster) Epoch() string {
	return b.epoch
}

// LastEventID returns the ID of the most recent event
func (b *Broadcaster) LastEventID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastID
}

// Publish appends the event and delivers it without blocking. Subscribers
// whose buffer is full are dropped.
func (b *Broadcaster) Publish(p Payload) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return b.lastID
	}

	b.lastID++
	ev := Event{ID: b.lastID, Epoch: b.epoch, At: b.now(), Payload: p}

	idx := (b.start + b.size) % len(b.ring)
	b.ring[idx] = ev
	if b.size < len(b.ring) {
		b.size++
	} else {
		b.start = (b.start + 1) % len(b.ring)
	}

	b.view.apply(ev)

	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			log.Printf("[Broadcaster] dropping slow subscriber at event %d", ev.ID)
			metrics.BroadcastDrops.Inc()
			b.removeLocked(s, ErrSlowConsumer)
		}
	}
	return ev.ID
}

// Subscribe resumes a client that last saw sinceID in the given epoch. The
// returned events are every event after sinceID; live events follow on the
// subscription with no gap or overlap.
func (b *Broadcaster) Subscribe(epoch string, sinceID uint64) (*Subscription, []Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrClosed
	}
	if epoch != b.epoch || sinceID > b.lastID {
		return nil, nil, ErrReplayUnavailable
	}
	oldest := b.lastID - uint64(b.size) + 1
	if sinceID+1 < oldest {
		return nil, nil, ErrReplayUnavailable
	}

	replay := make([]Event, 0, b.lastID-sinceID)
	for i := 0; i < b.size; i++ {
		ev := b.ring[(b.start+i)%len(b.ring)]
		if ev.ID > sinceID {
			replay = append(replay, ev)
		}
	}
	return b.addLocked(), replay, nil
}

// SubscribeWithSnapshot returns the current snapshot and a subscription
// that starts right after it
func (b *Broadcaster) SubscribeWithSnapshot() (*Subscription, Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, Snapshot{}, ErrClosed
	}
	return b.addLocked(), b.snapshotLocked(), nil
}

// Snapshot returns the current view
func (b *Broadcaster) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// SubscriberCount returns the number of live subscriptions
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		b.removeLocked(s, ErrClosed)
	}
}

func (b *Broadcaster) snapshotLocked() Snapshot {
	round, recent := b.view.snapshot()
	return Snapshot{
		Epoch:       b.epoch,
		LastEventID: b.lastID,
		Round:       round,
		Recent:      recent,
	}
}

func (b *Broadcaster) addLocked() *Subscription {
	s := &Subscription{
		b:    b,
		ch:   make(chan Event, b.bufSize),
		done: make(chan struct{}),
	}
	b.subs[s] = struct{}{}
	metrics.Subscribers.Set(float64(len(b.subs)))
	return s
}

func (b *Broadcaster) removeLocked(s *Subscription, err error) {
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	metrics.Subscribers.Set(float64(len(b.subs)))
	s.finish(err)
}
