package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ripgrip/internal/domain"
	"ripgrip/internal/render"
)

type spawnCall struct {
	spec domain.QuerySpec
	id   domain.QueryID
}

type fakeSpawner struct {
	mu     sync.Mutex
	spawns []spawnCall
	kills  int
}

func (f *fakeSpawner) Spawn(spec domain.QuerySpec, id domain.QueryID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns = append(f.spawns, spawnCall{spec: spec, id: id})
}

func (f *fakeSpawner) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
}

func (f *fakeSpawner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawns)
}

func (f *fakeSpawner) lastSpawn() spawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns[len(f.spawns)-1]
}

// recordingSink is flush-goroutine safe
type recordingSink struct {
	mu         sync.Mutex
	statuses   []string
	inserts    []string
	replaces   []string
	highlights int
}

func (s *recordingSink) ReplaceRegion(fromLine, toLine int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces = append(s.replaces, text)
}

func (s *recordingSink) InsertAtEnd(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, text)
}

func (s *recordingSink) SetStatus(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, text)
}

func (s *recordingSink) SetHighlightRanges(string, []render.LineSpan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlights++
}

func (s *recordingSink) RevealLine(int)             {}
func (s *recordingSink) OpenFile(string, int, bool) {}

func (s *recordingSink) highlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlights
}

func (s *recordingSink) lastStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func newTestController(t *testing.T, opts StartOptions) (*Controller, *fakeSpawner, *recordingSink) {
	t.Helper()
	spawner := &fakeSpawner{}
	sink := &recordingSink{}
	c, err := New(opts, spawner, sink, nil)
	require.NoError(t, err)
	t.Cleanup(c.Buffer().Stop)
	return c, spawner, sink
}

func records(n int) []domain.MatchRecord {
	recs := make([]domain.MatchRecord, n)
	for i := range recs {
		recs[i] = domain.MatchRecord{
			Path:       "a.txt",
			LineNumber: i + 1,
			LineText:   fmt.Sprintf("line %d", i+1),
			Submatches: []domain.Span{{Start: 0, End: 4}},
		}
	}
	return recs
}

func TestInitResolvesCwd(t *testing.T) {
	t.Parallel()
	ws := t.TempDir()
	doc := t.TempDir()

	// Doc dir wins when present
	c, _, _ := newTestController(t, StartOptions{
		DocPath:       filepath.Join(doc, "main.go"),
		WorkspaceRoot: ws,
	})
	assert.Equal(t, doc, c.Mode().Cwd)
	assert.Equal(t, domain.OriginDoc, c.Mode().Origin)
	assert.Equal(t, StateInitialized, c.State())

	// Workspace root is the fallback
	c2, _, _ := newTestController(t, StartOptions{WorkspaceRoot: ws})
	assert.Equal(t, ws, c2.Mode().Cwd)
	assert.Equal(t, domain.OriginWorkspace, c2.Mode().Origin)
}

func TestInitFailsWithoutAnyRoot(t *testing.T) {
	t.Parallel()
	_, err := New(StartOptions{}, &fakeSpawner{}, &recordingSink{}, nil)
	require.ErrorIs(t, err, ErrNoWorkingDir)
}

func TestEditedTextTriggersNewQuery(t *testing.T) {
	t.Parallel()
	c, spawner, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo")
	require.Equal(t, 1, spawner.spawnCount())
	assert.Equal(t, domain.QueryID(1), spawner.lastSpawn().id)
	assert.Equal(t, "foo", spawner.lastSpawn().spec.Pattern)
	assert.Equal(t, StateQuerying, c.State())

	// Identical text must not bump the generation (feedback-loop guard)
	c.SetQueryText("foo")
	assert.Equal(t, 1, spawner.spawnCount())
	assert.Equal(t, domain.QueryID(1), c.QueryID())
}

func TestEmptyPatternDoesNotSpawn(t *testing.T) {
	t.Parallel()
	c, spawner, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	// A mode toggle with no pattern bumps the generation but spawns nothing
	c.ToggleCase()
	assert.Equal(t, domain.QueryID(1), c.QueryID())
	assert.Equal(t, 0, spawner.spawnCount())
	assert.Equal(t, StateInitialized, c.State())
}

func TestStaleEventsAreDropped(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo") // id 1
	c.SetQueryText("bar") // id 2, supersedes before id 1 emitted anything

	c.OnMatchBatch(records(3), 1)
	assert.Empty(t, c.Matches(), "matches from a superseded query must never appear")

	c.OnSummary(domain.Summary{Kind: domain.SummaryDone, MatchCount: 3}, 1)
	assert.Equal(t, StateQuerying, c.State(), "stale summary must not settle the query")

	c.OnMatchBatch(records(2), 2)
	assert.Len(t, c.Matches(), 2)
}

func TestNewQueryResetsAccumulatedState(t *testing.T) {
	t.Parallel()
	c, spawner, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo")
	c.OnMatchBatch(records(5), 1)
	require.Len(t, c.Matches(), 5)
	require.Equal(t, 0, c.Focus())

	c.SetQueryText("food")
	assert.Empty(t, c.Matches())
	assert.Equal(t, -1, c.Focus())
	assert.GreaterOrEqual(t, spawner.kills, 1, "previous subprocess must be killed")
}

func TestCapacityCap(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo")
	c.OnMatchBatch(records(250), 1)

	matches := c.Matches()
	require.Len(t, matches, DefaultMaxResults+1, "cap plus one placeholder row")
	assert.True(t, matches[DefaultMaxResults].Placeholder)
	for _, rec := range matches[:DefaultMaxResults] {
		assert.False(t, rec.Placeholder)
	}

	// Further batches for the same generation are ignored
	c.OnMatchBatch(records(10), 1)
	assert.Len(t, c.Matches(), DefaultMaxResults+1)
}

func TestFocusClamp(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo")
	c.OnMatchBatch(records(5), 1)
	require.Equal(t, 0, c.Focus(), "first batch focuses the first match")

	for i := 0; i < 4; i++ {
		c.MoveFocus(1)
	}
	assert.Equal(t, 4, c.Focus())

	// No-op at the upper bound
	c.MoveFocus(1)
	assert.Equal(t, 4, c.Focus())

	c.MoveFocus(-5)
	assert.Equal(t, 0, c.Focus())
}

func TestFirstOverflowingBatchStillFocuses(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir(), MaxResults: 3})

	// A single batch that blows past the cap must still focus the first match
	c.SetQueryText("foo")
	c.OnMatchBatch(records(10), 1)

	require.Len(t, c.Matches(), 4)
	assert.Equal(t, 0, c.Focus())
}

func TestBurstMutationWithFastFlushes(t *testing.T) {
	t.Parallel()
	c, _, sink := newTestController(t, StartOptions{
		WorkspaceRoot:   t.TempDir(),
		FlushFirstDelay: time.Millisecond,
		FlushGap:        time.Millisecond,
	})

	// Mutate the match list and focus while flushes fire on the timer
	// goroutine. Highlight spans must reach the sink fully computed; the
	// flush must never read controller state.
	c.SetQueryText("foo")
	for i := 0; i < 50; i++ {
		c.OnMatchBatch(records(2), 1)
		c.MoveFocus(1)
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return sink.highlightCount() >= 2
	}, time.Second, time.Millisecond)
	assert.Len(t, c.Matches(), 100)
	assert.Equal(t, 50, c.Focus(), "one move per iteration from the initial focus")
}

func TestFocusSkipsPlaceholder(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir(), MaxResults: 3})

	c.SetQueryText("foo")
	c.OnMatchBatch(records(10), 1)
	require.Len(t, c.Matches(), 4)

	c.MoveFocus(5)
	assert.Equal(t, 2, c.Focus(), "focus clamps to the last live record, not the placeholder")
}

func TestMoveFocusOnEmptyResultsIsNoOp(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.MoveFocus(1)
	assert.Equal(t, -1, c.Focus())
}

func TestCaseModeCycle(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	require.Equal(t, domain.CaseSmart, c.Mode().Case)
	c.ToggleCase()
	assert.Equal(t, domain.CaseIgnore, c.Mode().Case)
	c.ToggleCase()
	assert.Equal(t, domain.CaseStrict, c.Mode().Case)
	c.ToggleCase()
	assert.Equal(t, domain.CaseSmart, c.Mode().Case)
	assert.Equal(t, domain.QueryID(3), c.QueryID(), "every toggle is a new generation")
}

func TestToggleSpawnsWithNewFlags(t *testing.T) {
	t.Parallel()
	c, spawner, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo")
	c.ToggleRegex()
	require.Equal(t, 2, spawner.spawnCount())
	assert.True(t, spawner.lastSpawn().spec.Regex)
	assert.Equal(t, domain.QueryID(2), spawner.lastSpawn().id)
}

func TestDirectoryToggleNoOpKeepsGeneration(t *testing.T) {
	t.Parallel()
	// No doc dir: there is nothing to toggle to
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo")
	before := c.QueryID()
	c.ToggleDirectory()
	assert.Equal(t, before, c.QueryID(), "a no-op toggle must not bump the generation or reset state")
}

func TestDirectoryToggleSwitchesRoots(t *testing.T) {
	t.Parallel()
	ws := t.TempDir()
	docDir := filepath.Join(ws, "pkg", "deep")
	require.NoError(t, os.MkdirAll(docDir, 0755))

	c, _, _ := newTestController(t, StartOptions{
		DocPath:       filepath.Join(docDir, "main.go"),
		WorkspaceRoot: ws,
	})
	require.Equal(t, docDir, c.Mode().Cwd)

	c.ToggleDirectory()
	assert.Equal(t, ws, c.Mode().Cwd)
	assert.Equal(t, domain.OriginWorkspace, c.Mode().Origin)
	assert.Equal(t, domain.QueryID(1), c.QueryID())

	c.ToggleDirectory()
	assert.Equal(t, docDir, c.Mode().Cwd)
	assert.Equal(t, domain.QueryID(2), c.QueryID())
}

func TestNavigateDirUpAndDown(t *testing.T) {
	t.Parallel()
	ws := t.TempDir()
	docDir := filepath.Join(ws, "pkg", "deep")
	require.NoError(t, os.MkdirAll(docDir, 0755))

	c, _, _ := newTestController(t, StartOptions{
		DocPath:       filepath.Join(docDir, "main.go"),
		WorkspaceRoot: ws,
		Origin:        domain.OriginWorkspace,
	})
	require.Equal(t, ws, c.Mode().Cwd)

	// Descend one segment at a time toward the doc dir
	c.NavigateDirDown()
	assert.Equal(t, filepath.Join(ws, "pkg"), c.Mode().Cwd)
	c.NavigateDirDown()
	assert.Equal(t, docDir, c.Mode().Cwd)

	// At the doc dir there is nowhere further down
	id := c.QueryID()
	c.NavigateDirDown()
	assert.Equal(t, docDir, c.Mode().Cwd)
	assert.Equal(t, id, c.QueryID())

	c.NavigateDirUp()
	assert.Equal(t, filepath.Join(ws, "pkg"), c.Mode().Cwd)
}

func TestQueryErrorStopsTheQueryOnly(t *testing.T) {
	t.Parallel()
	c, _, sink := newTestController(t, StartOptions{
		WorkspaceRoot:   t.TempDir(),
		FlushFirstDelay: time.Millisecond,
		FlushGap:        time.Millisecond,
	})

	c.SetQueryText("foo")
	c.OnMatchBatch(records(2), 1)
	c.OnQueryError("unknown record type", 1)

	// No further events for this generation are accepted
	c.OnMatchBatch(records(2), 1)
	assert.Len(t, c.Matches(), 2)
	assert.Equal(t, StateSettled, c.State())

	require.Eventually(t, func() bool {
		return strings.HasPrefix(sink.lastStatus(), "error:")
	}, time.Second, 5*time.Millisecond)

	// The session stays open and editable
	c.SetQueryText("bar")
	assert.Equal(t, StateQuerying, c.State())
}

func TestSummaryFlushedToSink(t *testing.T) {
	t.Parallel()
	c, _, sink := newTestController(t, StartOptions{
		WorkspaceRoot:   t.TempDir(),
		FlushFirstDelay: time.Millisecond,
		FlushGap:        time.Millisecond,
	})

	c.SetQueryText("foo")
	c.OnMatchBatch(records(2), 1)
	c.OnSummary(domain.Summary{Kind: domain.SummaryDone, MatchCount: 2, ElapsedHuman: "0.01s"}, 1)
	assert.Equal(t, StateSettled, c.State())

	require.Eventually(t, func() bool {
		return sink.lastStatus() == "2 matches in 0.01s"
	}, time.Second, 5*time.Millisecond)
}

func TestCommitReturnsFocusedMatchAndCloses(t *testing.T) {
	t.Parallel()
	c, spawner, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo")
	c.OnMatchBatch(records(3), 1)
	c.MoveFocus(1)

	rec, ok := c.Commit()
	require.True(t, ok)
	assert.Equal(t, 2, rec.LineNumber)
	assert.Equal(t, StateClosed, c.State())
	assert.GreaterOrEqual(t, spawner.kills, 2, "commit kills the subprocess")

	// Closed sessions ignore everything
	c.SetQueryText("bar")
	assert.Equal(t, StateClosed, c.State())
}

func TestCommitWithoutFocusKeepsSessionOpen(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	_, ok := c.Commit()
	assert.False(t, ok)
	assert.NotEqual(t, StateClosed, c.State())
}

func TestQuitClosesSession(t *testing.T) {
	t.Parallel()
	c, spawner, _ := newTestController(t, StartOptions{WorkspaceRoot: t.TempDir()})

	c.SetQueryText("foo")
	c.Quit(true)
	assert.Equal(t, StateClosed, c.State())
	assert.GreaterOrEqual(t, spawner.kills, 2)

	// Idempotent
	c.Quit(false)
	assert.Equal(t, StateClosed, c.State())
}
