package logbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/clarke68/improv-score/internal/engine"
)

// Journal records committed cue-sets of a piece as logbook entries. It is an
// engine.Sink; countdown frames are ignored.
type Journal struct {
	book *Logbook

	mu      sync.Mutex
	prompts int
}

// NewJournal writes to book.
func NewJournal(book *Logbook) *Journal {
	return &Journal{book: book}
}

// Emit implements engine.Sink.
func (j *Journal) Emit(ev engine.Event) {
	if j == nil || j.book == nil {
		return
	}
	switch ev.Kind {
	case engine.KindRenderCommit:
		j.mu.Lock()
		j.prompts++
		n := j.prompts
		j.mu.Unlock()
		j.book.Record(KindPrompt, ev.PieceID, "%d at %s [%s] %s",
			n, clock(ev.Elapsed), regimeOrDash(ev), ev.Cues.String())
	case engine.KindPieceEnded:
		j.mu.Lock()
		n := j.prompts
		j.mu.Unlock()
		j.book.Record(KindEnd, ev.PieceID, "at %s after %d prompts", clock(ev.Elapsed), n)
	}
}

// Start records the start of piece with a summary of its settings.
func (j *Journal) Start(piece, summary string) {
	if j == nil {
		return
	}
	j.book.Record(KindStart, piece, "%s", summary)
}

// Note records a free-form remark about piece.
func (j *Journal) Note(piece, format string, args ...any) {
	if j == nil {
		return
	}
	j.book.Record(KindNote, piece, format, args...)
}

// Prompts returns how many commits were journaled.
func (j *Journal) Prompts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.prompts
}

func regimeOrDash(ev engine.Event) string {
	if ev.Regime == "" {
		return "-"
	}
	return string(ev.Regime)
}

func clock(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%s%d:%02d", sign, secs/60, secs%60)
}
