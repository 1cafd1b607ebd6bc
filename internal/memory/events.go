package memory

import (
	"sync"
	"time"

	"github.com/Modzer0/Brain-sub000/internal/models"
)

// EventType names a manager notification.
type EventType string

const (
	EventMemoryStored          EventType = "memory_stored"
	EventMemoryUsageChanged    EventType = "memory_usage_changed"
	EventMemoryError           EventType = "memory_error"
	EventStatisticsUpdated     EventType = "statistics_updated"
	EventCoherenceStateChanged EventType = "coherence_state_changed"
)

// Event is a fire-and-forget notification. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	Time      time.Time
	Memory    *models.MemoryItem
	Usage     float64
	Message   string
	Err       error
	Stats     *models.Statistics
	Coherence *models.MemoryCoherenceState
	Phase     CoherencePhase
}

// Handler receives events synchronously on the publishing goroutine and must not block.
type Handler func(Event)

// EventBus fans events out to handlers and channels. Channel sends never
// block; a full channel drops the event.
type EventBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
	chans    map[int]chan Event
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[int]Handler),
		chans:    make(map[int]chan Event),
	}
}

// Subscribe registers h and returns a function that removes it.
func (b *EventBus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Channel returns a buffered event stream and a function that closes it.
func (b *EventBus) Channel(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.chans[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.chans, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	// Sends stay under the read lock so a concurrent close cannot race them.
	for _, ch := range b.chans {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
