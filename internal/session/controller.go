// Package session implements the interactive search session: query
// versioning, accumulated results, focus navigation, and the glue between
// edit events, the process manager, and the render buffer.
package session

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ripgrip/internal/domain"
	"ripgrip/internal/eventbus"
	"ripgrip/internal/render"
	"ripgrip/internal/throttle"
)

// DefaultMaxResults caps how many match records one query may accumulate.
// Past the cap a single placeholder row is shown instead.
const DefaultMaxResults = 200

// ErrNoWorkingDir is returned when neither the requesting document's
// directory nor the workspace root is resolvable at session init
var ErrNoWorkingDir = errors.New("no working directory resolvable")

// State is the controller's lifecycle state
type State int

const (
	StateIdle State = iota
	StateInitialized
	StateQuerying
	StateSettled
	StateClosed
)

// Spawner is the process-manager surface the controller drives
type Spawner interface {
	Spawn(spec domain.QuerySpec, id domain.QueryID)
	Kill()
}

// StartOptions is the session entry contract. Seeding the query line is the
// host's job: the seed must pass through the visible input so the edit-event
// path stays the only way queries start.
type StartOptions struct {
	DocPath       string // requesting document, may be empty
	WorkspaceRoot string // may be empty
	Origin        domain.DirOrigin
	MaxResults    int // 0 means DefaultMaxResults

	// Initial mode toggles
	Case  domain.CaseMode
	Regex bool
	Word  bool

	// Render flush tuning; zero means the throttle defaults
	FlushFirstDelay time.Duration
	FlushGap        time.Duration
}

// Controller owns the session state. All methods must be called from a
// single goroutine; subprocess events are marshaled onto that goroutine by
// the host before reaching On* handlers.
type Controller struct {
	mode    domain.SessionMode
	state   State
	queryID domain.QueryID
	query   string
	erred   bool // protocol error killed the current query

	matches []domain.MatchRecord
	capped  bool
	focus   int // index into matches, -1 when unset

	maxResults int
	runner     Spawner
	buf        *render.Buffer
	bus        eventbus.EventBus
}

// New creates a session controller. The working directory is resolved from
// the requesting document's directory, falling back to the workspace root;
// failing both is fatal for session start.
func New(opts StartOptions, runner Spawner, sink render.Sink, bus eventbus.EventBus) (*Controller, error) {
	mode := domain.SessionMode{
		Origin: opts.Origin,
		Case:   opts.Case,
		Regex:  opts.Regex,
		Word:   opts.Word,
	}

	if opts.DocPath != "" {
		if abs, err := filepath.Abs(opts.DocPath); err == nil {
			dir := filepath.Dir(abs)
			if isDir(dir) {
				mode.DocDir = dir
			}
		}
	}
	if opts.WorkspaceRoot != "" {
		if abs, err := filepath.Abs(opts.WorkspaceRoot); err == nil && isDir(abs) {
			mode.WorkspaceRoot = abs
		}
	}

	switch {
	case opts.Origin == domain.OriginWorkspace && mode.WorkspaceRoot != "":
		mode.Cwd = mode.WorkspaceRoot
	case mode.DocDir != "":
		mode.Cwd = mode.DocDir
		mode.Origin = domain.OriginDoc
	case mode.WorkspaceRoot != "":
		mode.Cwd = mode.WorkspaceRoot
		mode.Origin = domain.OriginWorkspace
	default:
		return nil, ErrNoWorkingDir
	}

	c := &Controller{
		mode:       mode,
		state:      StateInitialized,
		focus:      -1,
		maxResults: opts.MaxResults,
		runner:     runner,
		bus:        bus,
	}
	if c.maxResults <= 0 {
		c.maxResults = DefaultMaxResults
	}
	if opts.FlushFirstDelay > 0 || opts.FlushGap > 0 {
		first, gap := opts.FlushFirstDelay, opts.FlushGap
		if first <= 0 {
			first = throttle.DefaultFirstDelay
		}
		if gap <= 0 {
			gap = throttle.DefaultGap
		}
		c.buf = render.NewBufferWithCoalescer(sink, func(action func()) *throttle.Coalescer {
			return throttle.NewWithDelays(action, first, gap)
		})
	} else {
		c.buf = render.NewBuffer(sink)
	}
	return c, nil
}

// Mode returns a copy of the current session mode
func (c *Controller) Mode() domain.SessionMode { return c.mode }

// Query returns the current query text
func (c *Controller) Query() string { return c.query }

// QueryID returns the current generation
func (c *Controller) QueryID() domain.QueryID { return c.queryID }

// State returns the controller state
func (c *Controller) State() State { return c.state }

// Matches returns the accumulated records including any placeholder row
func (c *Controller) Matches() []domain.MatchRecord { return c.matches }

// Focus returns the focused match index, -1 when none
func (c *Controller) Focus() int { return c.focus }

// Buffer exposes the render buffer, mainly so the host can stop it
func (c *Controller) Buffer() *render.Buffer { return c.buf }

// SetQueryText reacts to an edited query line. Identical text is a no-op so
// the controller rewriting its own query line cannot feed back into itself.
func (c *Controller) SetQueryText(text string) {
	if c.state == StateClosed || text == c.query {
		return
	}
	c.query = text
	c.newQuery()
}

// ToggleDirectory switches the search root between the document directory
// and the workspace root. A switch that would not change the cwd keeps the
// current query untouched.
func (c *Controller) ToggleDirectory() {
	if c.state == StateClosed {
		return
	}
	var target string
	var origin domain.DirOrigin
	if c.mode.Origin == domain.OriginDoc {
		target, origin = c.mode.WorkspaceRoot, domain.OriginWorkspace
	} else {
		target, origin = c.mode.DocDir, domain.OriginDoc
	}
	if target == "" || target == c.mode.Cwd {
		return
	}
	c.mode.Origin = origin
	c.mode.Cwd = target
	c.newQuery()
}

// NavigateDirUp moves the search root to its parent directory
func (c *Controller) NavigateDirUp() {
	if c.state == StateClosed {
		return
	}
	parent := filepath.Dir(c.mode.Cwd)
	if parent == c.mode.Cwd {
		return // at the filesystem root
	}
	c.mode.Cwd = parent
	c.newQuery()
}

// NavigateDirDown descends one path segment toward the inactive origin's
// root, as long as that root still lies under the cwd
func (c *Controller) NavigateDirDown() {
	if c.state == StateClosed {
		return
	}
	target := c.mode.DocDir
	if c.mode.Origin == domain.OriginDoc {
		target = c.mode.WorkspaceRoot
	}
	if target == "" || target == c.mode.Cwd {
		return
	}
	prefix := c.mode.Cwd + string(filepath.Separator)
	if !strings.HasPrefix(target, prefix) {
		return
	}
	rest := strings.TrimPrefix(target, prefix)
	seg, _, _ := strings.Cut(rest, string(filepath.Separator))
	c.mode.Cwd = filepath.Join(c.mode.Cwd, seg)
	c.newQuery()
}

// ToggleCase cycles smart -> ignore -> strict -> smart
func (c *Controller) ToggleCase() {
	if c.state == StateClosed {
		return
	}
	c.mode.Case = c.mode.Case.Next()
	c.newQuery()
}

// ToggleRegex flips regex matching
func (c *Controller) ToggleRegex() {
	if c.state == StateClosed {
		return
	}
	c.mode.Regex = !c.mode.Regex
	c.newQuery()
}

// ToggleWord flips whole-word matching
func (c *Controller) ToggleWord() {
	if c.state == StateClosed {
		return
	}
	c.mode.Word = !c.mode.Word
	c.newQuery()
}

// newQuery allocates the next generation, kills the previous subprocess,
// resets all accumulated state, and spawns for a non-empty pattern
func (c *Controller) newQuery() {
	c.queryID++
	c.erred = false
	c.runner.Kill()

	c.matches = nil
	c.capped = false
	c.focus = -1
	c.buf.Reset()

	spec := domain.QuerySpec{
		Pattern: c.query,
		Cwd:     c.mode.Cwd,
		Case:    c.mode.Case,
		Regex:   c.mode.Regex,
		Word:    c.mode.Word,
	}

	if c.bus != nil {
		c.bus.Publish(eventbus.QueryStartedEvent{QueryID: c.queryID, Spec: spec})
	}

	if c.query == "" {
		c.state = StateInitialized
		c.buf.SetStatus("")
		return
	}

	c.state = StateQuerying
	c.buf.SetStatus(fmt.Sprintf("searching %q in %s …", c.query, c.mode.Cwd))
	c.runner.Spawn(spec, c.queryID)
}

// OnMatchBatch appends decoded records for the given generation. Stale
// generations are dropped silently; that is the expected way late output
// from killed processes dies.
func (c *Controller) OnMatchBatch(records []domain.MatchRecord, id domain.QueryID) {
	if id != c.queryID || c.state == StateClosed || c.erred || c.capped {
		return
	}

	for _, rec := range records {
		if len(c.matches) >= c.maxResults {
			c.appendPlaceholder()
			break
		}
		c.matches = append(c.matches, rec)
		c.buf.Append(formatMatch(rec))
	}

	if c.focus < 0 && c.liveCount() > 0 {
		c.focus = 0
		c.buf.Reveal(0)
	}
	c.pushDecorations()
}

// OnSummary records the terminal status for the given generation
func (c *Controller) OnSummary(sum domain.Summary, id domain.QueryID) {
	if id != c.queryID || c.state == StateClosed {
		return
	}
	if c.erred && sum.Kind == domain.SummaryDone {
		return
	}
	c.state = StateSettled
	c.buf.SetStatus(formatSummary(sum))
}

// OnQueryError handles a protocol failure: the query is dead, the session
// stays open and editable
func (c *Controller) OnQueryError(msg string, id domain.QueryID) {
	if id != c.queryID || c.state == StateClosed {
		return
	}
	c.erred = true
	c.state = StateSettled
	c.buf.SetStatus("error: " + msg)
}

// MoveFocus moves the focused match by delta (±1, ±5), clamped to the live
// records. Placeholder rows are never focused.
func (c *Controller) MoveFocus(delta int) {
	live := c.liveCount()
	if live == 0 || c.state == StateClosed {
		return
	}
	focus := c.focus
	if focus < 0 {
		focus = 0
	}
	focus += delta
	if focus < 0 {
		focus = 0
	}
	if focus > live-1 {
		focus = live - 1
	}
	if focus == c.focus {
		return
	}
	c.focus = focus
	c.buf.Reveal(focus)
	c.pushDecorations()
}

// Commit finalizes on the focused match and closes the session. The second
// return is false when nothing is focused; the session stays open then.
func (c *Controller) Commit() (domain.MatchRecord, bool) {
	if c.focus < 0 || c.focus >= c.liveCount() {
		return domain.MatchRecord{}, false
	}
	rec := c.matches[c.focus]
	c.close()
	return rec, true
}

// Quit tears the session down. Restoring the caller's original view is the
// host's job when returnToOrigin is set.
func (c *Controller) Quit(returnToOrigin bool) {
	if c.state == StateClosed {
		return
	}
	_ = returnToOrigin
	c.close()
}

func (c *Controller) close() {
	c.runner.Kill()
	c.buf.Stop()
	c.state = StateClosed
	if c.bus != nil {
		c.bus.Publish(eventbus.SessionClosedEvent{})
	}
	log.Printf("Session closed after query %d", c.queryID)
}

// liveCount is the number of focusable records (placeholder excluded)
func (c *Controller) liveCount() int {
	n := len(c.matches)
	if n > 0 && c.matches[n-1].Placeholder {
		n--
	}
	return n
}

// appendPlaceholder caps the current query: one marker row, then no further
// records are accepted for this generation. The cap is soft; the marker is
// always included even though it lands past the cap boundary.
func (c *Controller) appendPlaceholder() {
	c.capped = true
	ph := domain.MatchRecord{
		LineText:    fmt.Sprintf("… more than %d results, remainder omitted", c.maxResults),
		Placeholder: true,
	}
	c.matches = append(c.matches, ph)
	c.buf.Append(formatMatch(ph))
}

// pushDecorations recomputes highlight spans and queues them on the render
// buffer. It runs on the controller goroutine; the flush goroutine must
// never read controller state, so spans are handed over fully computed.
func (c *Controller) pushDecorations() {
	matches, focus := c.decorations()
	c.buf.SetHighlights(matches, focus)
}

// decorations computes highlight spans for the current match list and focus
func (c *Controller) decorations() (matches, focus []render.LineSpan) {
	for i, rec := range c.matches {
		if rec.Placeholder {
			continue
		}
		offset := matchPrefixLen(rec)
		for _, sm := range rec.Submatches {
			matches = append(matches, render.LineSpan{
				Line:  i,
				Start: offset + sm.Start,
				End:   offset + sm.End,
			})
		}
	}
	if c.focus >= 0 && c.focus < c.liveCount() {
		rec := c.matches[c.focus]
		focus = append(focus, render.LineSpan{
			Line: c.focus,
			End:  matchPrefixLen(rec) + len(rec.LineText),
		})
	}
	return matches, focus
}

// formatMatch renders one result row
func formatMatch(rec domain.MatchRecord) string {
	if rec.Placeholder {
		return rec.LineText
	}
	return fmt.Sprintf("%s:%d: %s", rec.Path, rec.LineNumber, rec.LineText)
}

// matchPrefixLen is the byte length of the "path:line: " prefix, used to
// shift submatch offsets into rendered-line offsets
func matchPrefixLen(rec domain.MatchRecord) int {
	return len(fmt.Sprintf("%s:%d: ", rec.Path, rec.LineNumber))
}

// formatSummary renders the terminal status line
func formatSummary(sum domain.Summary) string {
	if sum.Kind == domain.SummaryError {
		return "error: " + sum.ErrMsg
	}
	elapsed := sum.ElapsedHuman
	if elapsed == "" {
		elapsed = sum.Elapsed.String()
	}
	word := "matches"
	if sum.MatchCount == 1 {
		word = "match"
	}
	return fmt.Sprintf("%d %s in %s", sum.MatchCount, word, elapsed)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
