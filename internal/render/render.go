// Package render accumulates pending output and batches it into single
// rendering operations through the throttle.
package render

import (
	"strings"
	"sync"

	"ripgrip/internal/throttle"
)

// LineSpan is a highlight range on one rendered line
type LineSpan struct {
	Line  int // 0-based line in the results region
	Start int // byte offset into the line
	End   int
}

// Highlight kinds understood by the sink
const (
	HighlightMatch = "match"
	HighlightFocus = "focus"
)

// Sink is the rendering surface the session writes to. Implementations are
// only ever called from the throttled flush, except OpenFile which the host
// invokes on commit.
type Sink interface {
	ReplaceRegion(fromLine, toLine int, text string)
	InsertAtEnd(text string)
	SetStatus(text string)
	SetHighlightRanges(kind string, ranges []LineSpan)
	RevealLine(n int)
	OpenFile(path string, line int, focus bool)
}

// Buffer collects pending line insertions, highlight spans, and a pending
// status line, and flushes them as one sink mutation per throttle cycle.
// Producers hand it fully computed values; the flush goroutine only ever
// reads the buffer's own state under its mutex.
type Buffer struct {
	mu      sync.Mutex
	pending []string
	status  string
	hasStat bool
	hlMatch []LineSpan
	hlFocus []LineSpan
	hasHl   bool
	refresh bool // replace the whole region instead of appending
	reveal  int  // line to reveal on next flush, -1 for none

	sink      Sink
	coalescer *throttle.Coalescer
}

// NewBuffer creates a render buffer flushing to sink
func NewBuffer(sink Sink) *Buffer {
	b := &Buffer{
		sink:   sink,
		reveal: -1,
	}
	b.coalescer = throttle.New(b.flush)
	return b
}

// NewBufferWithCoalescer allows injecting a coalescer with custom delays
func NewBufferWithCoalescer(sink Sink, mk func(func()) *throttle.Coalescer) *Buffer {
	b := &Buffer{
		sink:   sink,
		reveal: -1,
	}
	b.coalescer = mk(b.flush)
	return b
}

// Append queues lines for the next flush
func (b *Buffer) Append(lines ...string) {
	b.mu.Lock()
	b.pending = append(b.pending, lines...)
	b.mu.Unlock()
	b.coalescer.Invoke()
}

// SetStatus queues the status line for the next flush; later calls supersede
// earlier ones within a cycle
func (b *Buffer) SetStatus(status string) {
	b.mu.Lock()
	b.status = status
	b.hasStat = true
	b.mu.Unlock()
	b.coalescer.Invoke()
}

// SetHighlights queues highlight spans for the next flush; later calls
// supersede earlier ones within a cycle. Spans must be computed by the
// caller on its own goroutine, never derived inside the flush.
func (b *Buffer) SetHighlights(matches, focus []LineSpan) {
	b.mu.Lock()
	b.hlMatch = matches
	b.hlFocus = focus
	b.hasHl = true
	b.mu.Unlock()
	b.coalescer.Invoke()
}

// Reveal asks the sink to scroll line n into view on the next flush
func (b *Buffer) Reveal(n int) {
	b.mu.Lock()
	b.reveal = n
	b.mu.Unlock()
	b.coalescer.Invoke()
}

// Reset discards all pending output and marks the next flush as a full
// replacement. Called when a new query invalidates everything on screen.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.pending = nil
	b.status = ""
	b.hasStat = false
	b.hlMatch = nil
	b.hlFocus = nil
	b.hasHl = true // stale highlights are cleared on the next flush
	b.refresh = true
	b.reveal = -1
	b.mu.Unlock()
	b.coalescer.Invoke()
}

// Stop cancels any pending flush
func (b *Buffer) Stop() {
	b.coalescer.Stop()
}

// flush performs exactly one rendering operation per pending concern
func (b *Buffer) flush() {
	b.mu.Lock()
	pending := b.pending
	status, hasStat := b.status, b.hasStat
	hlMatch, hlFocus, hasHl := b.hlMatch, b.hlFocus, b.hasHl
	refresh := b.refresh
	reveal := b.reveal
	b.pending = nil
	b.status = ""
	b.hasStat = false
	b.hlMatch = nil
	b.hlFocus = nil
	b.hasHl = false
	b.refresh = false
	b.reveal = -1
	b.mu.Unlock()

	text := strings.Join(pending, "\n")
	if refresh {
		b.sink.ReplaceRegion(0, -1, text)
	} else if len(pending) > 0 {
		b.sink.InsertAtEnd(text)
	}

	if hasStat {
		b.sink.SetStatus(status)
	}

	if hasHl {
		b.sink.SetHighlightRanges(HighlightMatch, hlMatch)
		b.sink.SetHighlightRanges(HighlightFocus, hlFocus)
	}

	if reveal >= 0 {
		b.sink.RevealLine(reveal)
	}
}
