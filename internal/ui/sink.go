package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"ripgrip/internal/render"
)

// ProgramSink implements render.Sink by marshaling every operation onto the
// Bubble Tea update loop as a message. The render buffer's flush runs on a
// timer goroutine; the model must only be mutated from the update loop.
type ProgramSink struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// NewProgramSink creates an unbound sink. Operations before Bind are
// dropped; nothing flushes before the program runs.
func NewProgramSink() *ProgramSink {
	return &ProgramSink{}
}

// Bind connects the sink to a running program's Send
func (s *ProgramSink) Bind(send func(tea.Msg)) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
}

func (s *ProgramSink) post(msg tea.Msg) {
	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

func (s *ProgramSink) ReplaceRegion(fromLine, toLine int, text string) {
	s.post(sinkReplaceMsg{fromLine: fromLine, toLine: toLine, text: text})
}

func (s *ProgramSink) InsertAtEnd(text string) {
	s.post(sinkInsertMsg{text: text})
}

func (s *ProgramSink) SetStatus(text string) {
	s.post(sinkStatusMsg{text: text})
}

func (s *ProgramSink) SetHighlightRanges(kind string, ranges []render.LineSpan) {
	s.post(sinkHighlightMsg{kind: kind, ranges: ranges})
}

func (s *ProgramSink) RevealLine(n int) {
	s.post(sinkRevealMsg{line: n})
}

func (s *ProgramSink) OpenFile(path string, line int, focus bool) {
	s.post(sinkOpenFileMsg{path: path, line: line, focus: focus})
}
