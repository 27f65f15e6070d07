package ui

import (
	"ripgrip/internal/eventbus"
	"ripgrip/internal/render"
)

// EventMsg wraps a domain event for the UI
type EventMsg struct {
	Event eventbus.DomainEvent
}

// seedQueryMsg kicks off the initial query after the program starts
type seedQueryMsg struct {
	text string
}

// Sink messages marshal throttled flush operations onto the update loop
type sinkReplaceMsg struct {
	fromLine int
	toLine   int
	text     string
}

type sinkInsertMsg struct {
	text string
}

type sinkStatusMsg struct {
	text string
}

type sinkHighlightMsg struct {
	kind   string
	ranges []render.LineSpan
}

type sinkRevealMsg struct {
	line int
}

type sinkOpenFileMsg struct {
	path  string
	line  int
	focus bool
}

// previewDoneMsg contains the result of running the pager
type previewDoneMsg struct {
	quitAfter bool
	err       error
}
