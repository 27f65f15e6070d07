package eventbus

import (
	"log"
	"runtime/debug"
	"sync"

	"ripgrip/internal/domain"
)

// Re-export domain types for convenience
type DomainEvent = domain.DomainEvent
type EventType = domain.EventType

// Event type constants
const (
	EventQueryStarted  = domain.EventQueryStarted
	EventMatchBatch    = domain.EventMatchBatch
	EventSummary       = domain.EventSummary
	EventQueryError    = domain.EventQueryError
	EventProcessExited = domain.EventProcessExited
	EventSessionClosed = domain.EventSessionClosed
)

// Re-export domain event types
type QueryStartedEvent = domain.QueryStartedEvent
type MatchBatchEvent = domain.MatchBatchEvent
type SummaryEvent = domain.SummaryEvent
type QueryErrorEvent = domain.QueryErrorEvent
type ProcessExitedEvent = domain.ProcessExitedEvent
type SessionClosedEvent = domain.SessionClosedEvent

// EventHandler is a function that handles domain events
type EventHandler func(DomainEvent)

// registration gives each subscription a stable identity so unsubscribing
// one handler cannot remove another after the slice shifts
type registration struct {
	handler EventHandler
}

// EventBus is the interface for the event bus
type EventBus interface {
	Publish(event DomainEvent)
	Subscribe(eventType EventType, handler EventHandler) func()
	Close()
}

// bus is the concrete implementation of EventBus
type bus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]*registration
	eventChan chan DomainEvent
	wg        sync.WaitGroup
	quit      chan struct{}
	once      sync.Once
}

// New creates a new event bus
func New() EventBus {
	b := &bus{
		handlers:  make(map[EventType][]*registration),
		eventChan: make(chan DomainEvent, 1000),
		quit:      make(chan struct{}),
	}

	// Start the event dispatcher
	b.wg.Add(1)
	go b.dispatch()

	return b
}

// Publish publishes an event to all subscribers. It never blocks: if the
// channel is full the event is dropped and logged.
func (b *bus) Publish(event DomainEvent) {
	// Skip logging for high-frequency events
	switch event.Type() {
	case EventMatchBatch:
		// Match batches arrive per output chunk, too frequent to log
	default:
		log.Printf("EventBus: Publishing event %s", event.Type())
	}

	select {
	case b.eventChan <- event:
		// Event sent successfully
	default:
		log.Printf("Event bus channel full, dropping event: %v", event.Type())
	}
}

// Subscribe subscribes to events of a specific type
// Returns an unsubscribe function
func (b *bus) Subscribe(eventType EventType, handler EventHandler) func() {
	reg := &registration{handler: handler}

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], reg)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		regs := b.handlers[eventType]
		for i, r := range regs {
			if r == reg {
				b.handlers[eventType] = append(regs[:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Close stops the dispatcher and drains remaining events
func (b *bus) Close() {
	b.once.Do(func() { close(b.quit) })
	b.wg.Wait()
}

// dispatch handles event distribution to subscribers. Handlers run
// synchronously inside this single goroutine so that subscribers observe
// events in publish order; match batches for one query must not be
// reordered relative to each other or to the query's summary.
func (b *bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventChan:
			b.mu.RLock()
			regs := b.handlers[event.Type()]
			// Make a copy to avoid holding lock during handler execution
			regsCopy := make([]*registration, len(regs))
			copy(regsCopy, regs)
			b.mu.RUnlock()

			for _, reg := range regsCopy {
				b.call(reg.handler, event)
			}

		case <-b.quit:
			// Drain remaining events
			for {
				select {
				case <-b.eventChan:
					// Discard event
				default:
					return
				}
			}
		}
	}
}

// call invokes a handler with panic recovery so one bad subscriber cannot
// take down the dispatch loop
func (b *bus) call(h EventHandler, event DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Event handler panic for %s: %v\nStack: %s", event.Type(), r, debug.Stack())
		}
	}()
	h(event)
}
