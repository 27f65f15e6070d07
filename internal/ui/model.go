package ui

import (
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ripgrip/internal/config"
	"ripgrip/internal/eventbus"
	"ripgrip/internal/render"
	"ripgrip/internal/session"
)

// Model represents the UI state
type Model struct {
	controller *session.Controller
	cfg        *config.Config
	seed       string

	// Rendered surface, mutated only via sink messages
	lines      []string
	status     string
	highlights map[string][]render.LineSpan
	offset     int // first visible result line

	ti       textinput.Model
	width    int
	height   int
	quitting bool

	// Program reference for terminal management
	program *tea.Program
}

// NewModel creates a new UI model
func NewModel(controller *session.Controller, cfg *config.Config, seed string) *Model {
	ti := textinput.New()
	ti.Prompt = "grep> "
	ti.PromptStyle = promptStyle
	ti.Focus()

	return &Model{
		controller: controller,
		cfg:        cfg,
		seed:       seed,
		highlights: make(map[string][]render.LineSpan),
		ti:         ti,
	}
}

// SetProgram sets the program reference for terminal management
func (m *Model) SetProgram(p *tea.Program) {
	m.program = p
}

// Init returns an initial command
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.seed != "" {
		seed := m.seed
		cmds = append(cmds, func() tea.Msg { return seedQueryMsg{text: seed} })
	}
	return tea.Batch(cmds...)
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ti.Width = msg.Width - len(m.ti.Prompt) - 2

	case seedQueryMsg:
		m.ti.SetValue(msg.text)
		m.ti.CursorEnd()
		m.controller.SetQueryText(msg.text)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		m.handleEvent(msg.Event)

	case sinkReplaceMsg:
		m.replaceRegion(msg.fromLine, msg.toLine, msg.text)

	case sinkInsertMsg:
		if msg.text != "" {
			m.lines = append(m.lines, strings.Split(msg.text, "\n")...)
		}

	case sinkStatusMsg:
		m.status = msg.text

	case sinkHighlightMsg:
		m.highlights[msg.kind] = msg.ranges

	case sinkRevealMsg:
		m.revealLine(msg.line)

	case sinkOpenFileMsg:
		return m, m.openFileCmd(msg.path, msg.line, msg.focus)

	case previewDoneMsg:
		if msg.err != nil {
			log.Printf("Pager failed: %v", msg.err)
		}
		if msg.quitAfter {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// handleKey routes key presses: session operations first, everything else
// edits the query line
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.controller.Quit(false)
		m.quitting = true
		return m, tea.Quit

	case "esc":
		m.controller.Quit(true)
		m.quitting = true
		return m, tea.Quit

	case "enter":
		rec, ok := m.controller.Commit()
		if !ok {
			return m, nil
		}
		return m, m.openFileCmd(rec.Path, rec.LineNumber, true)

	case "up", "ctrl+p":
		m.controller.MoveFocus(-1)
		return m, nil

	case "down", "ctrl+n":
		m.controller.MoveFocus(1)
		return m, nil

	case "pgup":
		m.controller.MoveFocus(-5)
		return m, nil

	case "pgdown":
		m.controller.MoveFocus(5)
		return m, nil

	case "ctrl+t":
		m.controller.ToggleDirectory()
		return m, nil

	case "ctrl+o":
		m.controller.NavigateDirUp()
		return m, nil

	case "ctrl+j":
		m.controller.NavigateDirDown()
		return m, nil

	case "ctrl+s":
		m.controller.ToggleCase()
		return m, nil

	case "ctrl+r":
		m.controller.ToggleRegex()
		return m, nil

	case "ctrl+b":
		m.controller.ToggleWord()
		return m, nil

	case "ctrl+v":
		matches := m.controller.Matches()
		focus := m.controller.Focus()
		if focus >= 0 && focus < len(matches) && !matches[focus].Placeholder {
			rec := matches[focus]
			return m, m.openFileCmd(rec.Path, rec.LineNumber, false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	m.controller.SetQueryText(m.ti.Value())
	return m, cmd
}

// handleEvent feeds marshaled subprocess events into the controller. The
// controller's stale-generation checks run here, on the update loop.
func (m *Model) handleEvent(event eventbus.DomainEvent) {
	switch e := event.(type) {
	case eventbus.MatchBatchEvent:
		m.controller.OnMatchBatch(e.Records, e.QueryID)
	case eventbus.SummaryEvent:
		m.controller.OnSummary(e.Summary, e.QueryID)
	case eventbus.QueryErrorEvent:
		m.controller.OnQueryError(e.Message, e.QueryID)
	case eventbus.ProcessExitedEvent:
		log.Printf("Search process for query %d exited: %v", e.QueryID, e.Err)
	}
}

// openFileCmd runs the pager over the file; quitAfter when the session is
// committed rather than previewed
func (m *Model) openFileCmd(path string, line int, quitAfter bool) tea.Cmd {
	program := m.program
	return func() tea.Msg {
		err := showFileInPager(program, path, line)
		return previewDoneMsg{quitAfter: quitAfter, err: err}
	}
}

// replaceRegion replaces result lines [fromLine, toLine) with text.
// toLine -1 means "through the end".
func (m *Model) replaceRegion(fromLine, toLine int, text string) {
	var newLines []string
	if text != "" {
		newLines = strings.Split(text, "\n")
	}

	if toLine < 0 || toLine > len(m.lines) {
		toLine = len(m.lines)
	}
	if fromLine < 0 {
		fromLine = 0
	}
	if fromLine > len(m.lines) {
		fromLine = len(m.lines)
	}
	if fromLine > toLine {
		fromLine = toLine
	}

	replaced := make([]string, 0, fromLine+len(newLines)+len(m.lines)-toLine)
	replaced = append(replaced, m.lines[:fromLine]...)
	replaced = append(replaced, newLines...)
	replaced = append(replaced, m.lines[toLine:]...)
	m.lines = replaced

	if fromLine == 0 {
		// Full refresh resets the viewport
		m.offset = 0
	}
}

// revealLine scrolls the viewport so the line is visible
func (m *Model) revealLine(line int) {
	visible := m.visibleHeight()
	if visible <= 0 {
		return
	}
	if line < m.offset {
		m.offset = line
	} else if line >= m.offset+visible {
		m.offset = line - visible + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m *Model) visibleHeight() int {
	// Query line, status bar, help line
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// View renders the session surface
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.ti.View())
	b.WriteString("\n")

	visible := m.visibleHeight()
	end := m.offset + visible
	if end > len(m.lines) {
		end = len(m.lines)
	}

	focusLine := m.focusedLine()
	for i := m.offset; i < end; i++ {
		b.WriteString(m.styleLine(i, i == focusLine))
		b.WriteString("\n")
	}
	for i := end - m.offset; i < visible; i++ {
		b.WriteString("\n")
	}

	b.WriteString(m.statusBar())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter open · ctrl+v preview · ctrl+s case · ctrl+r regex · ctrl+b word · ctrl+t root · ctrl+o/ctrl+j dir · esc quit"))

	return b.String()
}

// focusedLine returns the rendered line index currently focused, or -1
func (m *Model) focusedLine() int {
	for _, span := range m.highlights[render.HighlightFocus] {
		return span.Line
	}
	return -1
}

// styleLine applies match highlighting to one rendered result line. The
// focused line gets a single uniform style; nesting styles inside a
// background style garbles the ANSI output.
func (m *Model) styleLine(i int, focused bool) string {
	line := m.lines[i]

	if strings.HasPrefix(line, "…") {
		return placeholderStyle.Render(line)
	}
	if focused {
		return focusStyle.Render(line)
	}

	// Collect the match spans for this line
	var spans []render.LineSpan
	for _, span := range m.highlights[render.HighlightMatch] {
		if span.Line == i {
			spans = append(spans, span)
		}
	}

	return highlightSpans(line, spans)
}

// highlightSpans renders a line with its submatch ranges emphasized
func highlightSpans(line string, spans []render.LineSpan) string {
	if len(spans) == 0 {
		return colorizePrefix(line)
	}

	var b strings.Builder
	pos := 0
	for _, span := range spans {
		start, end := span.Start, span.End
		if start < pos {
			start = pos
		}
		if end > len(line) {
			end = len(line)
		}
		if start >= end || start >= len(line) {
			continue
		}
		b.WriteString(colorizePrefix(line[pos:start]))
		b.WriteString(matchStyle.Render(line[start:end]))
		pos = end
	}
	if pos < len(line) {
		b.WriteString(line[pos:])
	}
	return b.String()
}

// colorizePrefix styles the "path:line:" prefix when present in the fragment
func colorizePrefix(fragment string) string {
	idx := strings.Index(fragment, ": ")
	if idx < 0 {
		return fragment
	}
	return pathStyle.Render(fragment[:idx+1]) + fragment[idx+1:]
}

// statusBar renders the status line with mode indicators
func (m *Model) statusBar() string {
	if !m.cfg.UISettings.ShowStatusBar {
		return ""
	}

	mode := m.controller.Mode()

	var toggles []string
	toggles = append(toggles, modeOnStyle.Render("case:"+mode.Case.String()))
	toggles = append(toggles, renderToggle("regex", mode.Regex))
	toggles = append(toggles, renderToggle("word", mode.Word))

	left := m.status
	right := fmt.Sprintf("%s  %s", strings.Join(toggles, " "), mode.Cwd)

	style := statusStyle
	if strings.HasPrefix(m.status, "error:") {
		style = statusErrStyle
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return style.Width(m.width).Render(" " + left + strings.Repeat(" ", gap) + right)
}

func renderToggle(name string, on bool) string {
	if on {
		return modeOnStyle.Render(name)
	}
	return modeOffStyle.Render(name)
}
