package domain

// EventType represents the type of domain event
type EventType string

// Event types
const (
	EventQueryStarted  EventType = "QueryStarted"
	EventMatchBatch    EventType = "MatchBatch"
	EventSummary       EventType = "Summary"
	EventQueryError    EventType = "QueryError"
	EventProcessExited EventType = "ProcessExited"
	EventSessionClosed EventType = "SessionClosed"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	Type() EventType
}

// QueryStartedEvent is emitted when a new query generation begins
type QueryStartedEvent struct {
	QueryID QueryID
	Spec    QuerySpec
}

func (e QueryStartedEvent) Type() EventType { return EventQueryStarted }

// MatchBatchEvent carries the matches decoded from one output chunk,
// tagged with the generation they were produced under
type MatchBatchEvent struct {
	QueryID QueryID
	Records []MatchRecord
}

func (e MatchBatchEvent) Type() EventType { return EventMatchBatch }

// SummaryEvent is emitted when a query reaches a terminal state
type SummaryEvent struct {
	QueryID QueryID
	Summary Summary
}

func (e SummaryEvent) Type() EventType { return EventSummary }

// QueryErrorEvent is emitted when a query's output stream cannot be decoded.
// The query is dead after this; the session stays alive.
type QueryErrorEvent struct {
	QueryID QueryID
	Message string
	Err     error
}

func (e QueryErrorEvent) Type() EventType { return EventQueryError }

// ProcessExitedEvent is emitted when a search subprocess terminates
type ProcessExitedEvent struct {
	QueryID QueryID
	Err     error
}

func (e ProcessExitedEvent) Type() EventType { return EventProcessExited }

// SessionClosedEvent is emitted when the session is torn down
type SessionClosedEvent struct{}

func (e SessionClosedEvent) Type() EventType { return EventSessionClosed }
