package engine

import (
	"sync"

	"github.com/mailchimp/Firebase/internal/identity"
)

// EventType distinguishes trigger kinds.
type EventType int

const (
	// EventUserCreated is an account creation.
	EventUserCreated EventType = iota + 1
	// EventUserDeleted is an account deletion.
	EventUserDeleted
	// EventDocumentWritten is a document create, update or delete.
	EventDocumentWritten
)

func (t EventType) String() string {
	switch t {
	case EventUserCreated:
		return "user_created"
	case EventUserDeleted:
		return "user_deleted"
	case EventDocumentWritten:
		return "document_written"
	default:
		return "unknown"
	}
}

// Event is one inbound trigger. User is set for account events; Path,
// Before and After for document writes. A nil Before is a creation and a
// nil After is a deletion.
type Event struct {
	Type EventType

	// Flow and Seq are stamped by Engine.Enqueue when left empty.
	Flow string
	Seq  int64

	User identity.User

	Path   string
	Before map[string]any
	After  map[string]any
}

// eventQueue is an unbounded, thread-safe FIFO.
//
// HTTP handlers enqueue from many goroutines while the Run loop dequeues.
// The signal channel lets Run wait on a context at the same time.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue. It returns false if the
// queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// A buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Drop the slot's references to document snapshots.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available. It is
// closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
