// Package protocol decodes the search tool's newline-delimited JSON output
// stream into domain events.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ripgrip/internal/domain"
)

// ProtocolError is returned when a record on the wire cannot be decoded.
// It is fatal for the query that produced it: match indices would be
// corrupted if malformed records were dropped silently.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("protocol error on line %q: %v", line, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Batch is the decoded result of feeding one chunk: the matches in stream
// order plus at most one summary (the latest wins within a chunk).
type Batch struct {
	Records []domain.MatchRecord
	Summary *domain.Summary
}

// Wire format of one record. The type field discriminates begin/end/match/
// summary; data is decoded per kind.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type textField struct {
	Text string `json:"text"`
}

type submatch struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type matchData struct {
	Path       textField  `json:"path"`
	Lines      *textField `json:"lines"`
	LineNumber int        `json:"line_number"`
	Submatches []submatch `json:"submatches"`
}

type elapsed struct {
	Secs  int64  `json:"secs"`
	Nanos int64  `json:"nanos"`
	Human string `json:"human"`
}

type summaryData struct {
	ElapsedTotal elapsed `json:"elapsed_total"`
	Stats        struct {
		MatchedLines int `json:"matched_lines"`
	} `json:"stats"`
}

// Decoder reassembles lines from arbitrarily split chunks and decodes them.
// The zero value is ready to use.
type Decoder struct {
	buf []byte
}

// Feed appends a chunk to the decoder and processes every complete line in
// it. The trailing incomplete fragment, if any, is retained for the next
// chunk. Records are returned in stream order.
func (d *Decoder) Feed(chunk []byte) (Batch, error) {
	d.buf = append(d.buf, chunk...)

	var batch Batch
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return batch, nil
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := d.decodeLine(line, &batch); err != nil {
			return batch, err
		}
	}
}

// Rest returns the number of buffered bytes awaiting a newline
func (d *Decoder) Rest() int { return len(d.buf) }

func (d *Decoder) decodeLine(line []byte, batch *Batch) error {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return &ProtocolError{Line: string(line), Err: err}
	}

	switch env.Type {
	case "begin", "end":
		// File enter/leave markers carry nothing the session needs

	case "match":
		var md matchData
		if err := json.Unmarshal(env.Data, &md); err != nil {
			return &ProtocolError{Line: string(line), Err: err}
		}
		// A match without newline-terminated line text is a truncated
		// record; storing it would misalign highlight offsets.
		if md.Lines == nil || !strings.HasSuffix(md.Lines.Text, "\n") {
			return &ProtocolError{Line: string(line), Err: fmt.Errorf("match record has no terminated line text")}
		}
		rec := domain.MatchRecord{
			Path:       md.Path.Text,
			LineNumber: md.LineNumber,
			LineText:   strings.TrimSuffix(md.Lines.Text, "\n"),
		}
		for _, sm := range md.Submatches {
			rec.Submatches = append(rec.Submatches, domain.Span{Start: sm.Start, End: sm.End})
		}
		batch.Records = append(batch.Records, rec)

	case "summary":
		var sd summaryData
		if err := json.Unmarshal(env.Data, &sd); err != nil {
			return &ProtocolError{Line: string(line), Err: err}
		}
		// Later summaries in the same batch supersede earlier ones
		batch.Summary = &domain.Summary{
			Kind:         domain.SummaryDone,
			MatchCount:   sd.Stats.MatchedLines,
			Elapsed:      time.Duration(sd.ElapsedTotal.Secs)*time.Second + time.Duration(sd.ElapsedTotal.Nanos),
			ElapsedHuman: sd.ElapsedTotal.Human,
		}

	default:
		return &ProtocolError{Line: string(line), Err: fmt.Errorf("unknown record type %q", env.Type)}
	}

	return nil
}
