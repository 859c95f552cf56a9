package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/fable/internal/events"
)

// Subscriber is one live delivery handle for a book's events.
type Subscriber struct {
	id     string
	bookID string

	mu     sync.Mutex
	closed bool
	ch     chan events.Event
	done   chan struct{}

	// seen is the unix-nano timestamp of the last liveness touch.
	seen atomic.Int64
}

func newSubscriber(bookID string, bufferSize int) *Subscriber {
	sub := &Subscriber{
		id:     uuid.NewString(),
		bookID: bookID,
		ch:     make(chan events.Event, bufferSize),
		done:   make(chan struct{}),
	}
	sub.Touch()
	return sub
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// BookID returns the book this subscription covers.
func (s *Subscriber) BookID() string { return s.bookID }

// Events is the ordered event stream. The channel closes on unsubscribe or
// when the broadcaster reaps the subscriber.
func (s *Subscriber) Events() <-chan events.Event { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Touch records liveness. Transports call this on every client pong or
// message received.
func (s *Subscriber) Touch() {
	s.seen.Store(time.Now().UnixNano())
}

func (s *Subscriber) lastSeen() time.Time {
	return time.Unix(0, s.seen.Load())
}

// deliver enqueues ev without blocking. Returns false when the buffer is
// full and the event was dropped for this subscriber.
func (s *Subscriber) deliver(ev events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true // nothing to report for a closed subscription
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// close is idempotent; the broadcaster calls it on unsubscribe and reap.
func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}
