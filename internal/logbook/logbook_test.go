package logbook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clarke68/improv-score/internal/cue"
	"github.com/clarke68/improv-score/internal/dynamics"
	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/ensemble"
)

var stamp = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return stamp }

func TestTailReturnsRecentEntriesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journey.log")
	book, err := New(path, WithNow(fixedNow))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Record(KindNote, "piece-a", "entry-%d", i)
	}
	entries, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total entries = %d, want 5", total)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if entries[idx].Message != want {
			t.Fatalf("entry %d = %q, want %s", idx, entries[idx].Message, want)
		}
		if !entries[idx].At.Equal(stamp) {
			t.Fatalf("entry %d stamped %s, want %s", idx, entries[idx].At, stamp)
		}
	}
}

func TestEntryRoundTripsThroughStoredLine(t *testing.T) {
	e := Entry{At: stamp, Kind: KindPrompt, Piece: "0123456789", Message: "3 at 1:15 [duo] mf | —"}
	line := e.String()
	if line != "2025-03-01T20:00:00Z PROMPT 0123456789 3 at 1:15 [duo] mf | —" {
		t.Fatalf("unexpected stored line %q", line)
	}
	got := ParseEntry(line)
	if !got.At.Equal(e.At) || got.Kind != e.Kind || got.Piece != e.Piece || got.Message != e.Message {
		t.Fatalf("parsed %+v, want %+v", got, e)
	}

	anon := ParseEntry(Entry{At: stamp, Kind: KindNote, Message: "tuning"}.String())
	if anon.Piece != "" || anon.Message != "tuning" {
		t.Fatalf("unexpected anonymous entry %+v", anon)
	}
}

func TestForeignLinesBecomeNotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	if err := os.WriteFile(path, []byte("hand written line\n\n"), 0o644); err != nil {
		t.Fatalf("seed journal: %v", err)
	}
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	entries, total := book.Tail(5)
	if total != 1 {
		t.Fatalf("total entries = %d, want 1", total)
	}
	if entries[0].Kind != KindNote || entries[0].Message != "hand written line" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestJournalRecordsCommitsOnly(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "journal.log"), WithNow(fixedNow))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	j := NewJournal(book)
	play := cue.Play(dynamics.At(4))
	j.Start("0123456789", "8 min")
	j.Emit(engine.Event{Kind: engine.KindRenderTick, PieceID: "0123456789", Cues: cue.CueSet{play, cue.Rest()}})
	j.Emit(engine.Event{Kind: engine.KindRenderCommit, PieceID: "0123456789", Elapsed: 75 * time.Second, Regime: ensemble.RegimeDuo, Cues: cue.CueSet{play, cue.Rest()}})
	j.Emit(engine.Event{Kind: engine.KindPieceEnded, PieceID: "0123456789", Elapsed: 8 * time.Minute})

	entries, total := book.Tail(10)
	if total != 3 {
		t.Fatalf("total entries = %d, want 3", total)
	}
	for i, kind := range []Kind{KindStart, KindPrompt, KindEnd} {
		if entries[i].Kind != kind || entries[i].Piece != "0123456789" {
			t.Fatalf("entry %d = %+v, want kind %s", i, entries[i], kind)
		}
	}
	if want := "1 at 1:15 [duo] " + play.Mark + " | —"; entries[1].Message != want {
		t.Fatalf("prompt message = %q, want %q", entries[1].Message, want)
	}
	if entries[2].Message != "at 8:00 after 1 prompts" {
		t.Fatalf("unexpected end message %q", entries[2].Message)
	}
	if j.Prompts() != 1 {
		t.Fatalf("prompts = %d, want 1", j.Prompts())
	}
}

func TestPieceFiltersEntries(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "journal.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	NewJournal(book).Start("first", "a")
	NewJournal(book).Start("second", "b")
	NewJournal(book).Note("first", "ending called at %s", "2:00")

	got := book.Piece("first")
	if len(got) != 2 {
		t.Fatalf("entries for first = %d, want 2", len(got))
	}
	if got[1].Kind != KindNote || got[1].Message != "ending called at 2:00" {
		t.Fatalf("unexpected note %+v", got[1])
	}
	if book.Piece("") != nil {
		t.Fatalf("expected no entries for an empty piece id")
	}
}

func TestTailOfMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "nested", "none.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	entries, total := book.Tail(3)
	if entries != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v %d", entries, total)
	}
}
