package syncer

import (
	"sync"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// EventType tags sync lifecycle notifications.
type EventType string

const (
	EventSyncCompleted    EventType = "sync_completed"
	EventSyncFailed       EventType = "sync_failed"
	EventConflictDetected EventType = "conflict_detected"
)

// Event is one notification delivered to subscribers.
type Event struct {
	Type      EventType                       `json:"type"`
	At        int64                           `json:"at"`
	Result    *SyncResult                     `json:"result,omitempty"`
	Conflicts *models.ConflictDetectionResult `json:"conflicts,omitempty"`
	Error     string                          `json:"error,omitempty"`
}

// Emitter delivers events to subscribers in FIFO subscription order.
// Delivery is synchronous and best-effort: a subscriber torn down while
// an emission is in flight may or may not see it.
type Emitter struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn func(Event)
}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers fn and returns an unsubscribe func. Handlers run on
// the emitting goroutine; keep them short.
func (e *Emitter) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscription{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i := range e.subs {
			if e.subs[i].id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event to every current subscriber, in subscription
// order.
func (e *Emitter) Emit(ev Event) {
	if ev.At == 0 {
		ev.At = models.NowMillis()
	}

	e.mu.Lock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
