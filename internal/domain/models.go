package domain

import "time"

// QueryID is a monotonically increasing generation counter. Every
// semantically new query (text edit, directory change, mode toggle) gets a
// fresh id; anything tagged with an older id is stale and must be dropped.
type QueryID int64

// CaseMode controls case sensitivity of the search
type CaseMode int

const (
	CaseSmart CaseMode = iota
	CaseIgnore
	CaseStrict
)

// String returns the short status-bar label for the mode
func (c CaseMode) String() string {
	switch c {
	case CaseIgnore:
		return "ignore"
	case CaseStrict:
		return "strict"
	default:
		return "smart"
	}
}

// Next cycles smart -> ignore -> strict -> smart
func (c CaseMode) Next() CaseMode {
	switch c {
	case CaseSmart:
		return CaseIgnore
	case CaseIgnore:
		return CaseStrict
	default:
		return CaseSmart
	}
}

// QuerySpec describes one search request. It is immutable once handed to the
// process manager for a given QueryID.
type QuerySpec struct {
	Pattern string
	Dirs    []string // search roots relative to Cwd; empty means the cwd itself
	Cwd     string   // working directory the subprocess runs in
	Case    CaseMode
	Regex   bool // false means fixed-string match
	Word    bool
}

// Span is a half-open byte range [Start, End) into a matched line
type Span struct {
	Start int
	End   int
}

// MatchRecord is one matched line as decoded from the search tool's output
type MatchRecord struct {
	Path       string
	LineNumber int
	LineText   string // trailing newline already stripped
	Submatches []Span

	// Placeholder marks the synthetic "more results omitted" row appended
	// when the result cap is hit. Placeholder rows are never focusable.
	Placeholder bool
}

// SummaryKind discriminates terminal query outcomes
type SummaryKind int

const (
	SummaryDone SummaryKind = iota
	SummaryError
)

// Summary is the terminal message of one query
type Summary struct {
	Kind         SummaryKind
	MatchCount   int
	Elapsed      time.Duration
	ElapsedHuman string
	ErrMsg       string
}

// DirOrigin says which root the session's directory navigation is anchored to
type DirOrigin int

const (
	OriginDoc DirOrigin = iota
	OriginWorkspace
)

// SessionMode is the mutable per-session search configuration. It is owned
// and mutated exclusively by the session controller.
type SessionMode struct {
	Cwd           string // absolute
	DocDir        string // directory of the requesting document, may be empty
	WorkspaceRoot string // may be empty
	Origin        DirOrigin
	Case          CaseMode
	Regex         bool
	Word          bool
}
