package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Kind classifies a journal entry by what happened in the piece.
type Kind string

const (
	KindStart  Kind = "START"
	KindPrompt Kind = "PROMPT"
	KindEnd    Kind = "END"
	KindNote   Kind = "NOTE"
)

// Entry is one line of the performance journal.
type Entry struct {
	At      time.Time
	Kind    Kind
	Piece   string
	Message string
}

// String formats e the way it is stored: timestamp, kind, piece and message
// separated by single spaces. An empty piece is written as "-".
func (e Entry) String() string {
	piece := e.Piece
	if piece == "" {
		piece = "-"
	}
	return fmt.Sprintf("%s %s %s %s", e.At.UTC().Format(time.RFC3339), e.Kind, piece, e.Message)
}

// ParseEntry reads a stored journal line. Lines that do not carry a
// timestamp and kind come back as notes holding the whole line.
func ParseEntry(line string) Entry {
	parts := strings.SplitN(line, " ", 4)
	if len(parts) < 3 {
		return Entry{Kind: KindNote, Message: line}
	}
	at, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return Entry{Kind: KindNote, Message: line}
	}
	e := Entry{At: at, Kind: Kind(parts[1]), Piece: parts[2]}
	if e.Piece == "-" {
		e.Piece = ""
	}
	if len(parts) == 4 {
		e.Message = parts[3]
	}
	return e
}

// Logbook persists the performance journal to a simple text file.
type Logbook struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// Option configures a Logbook.
type Option func(*Logbook)

// WithNow sets the wall clock used to stamp entries.
func WithNow(now func() time.Time) Option {
	return func(l *Logbook) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a logbook that writes to the provided path.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	l := &Logbook{path: path, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record stamps and appends an entry for piece.
func (l *Logbook) Record(kind Kind, piece, format string, args ...any) {
	if l == nil {
		return
	}
	message := strings.TrimSpace(fmt.Sprintf(format, args...))
	message = strings.ReplaceAll(message, "\n", " ")
	l.append(Entry{At: l.now(), Kind: kind, Piece: piece, Message: message})
}

func (l *Logbook) append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(e.String() + "\n")
}

// Tail returns up to maxEntries of the most recent entries along with the
// total number of entries in the file.
func (l *Logbook) Tail(maxEntries int) ([]Entry, int) {
	if l == nil || maxEntries <= 0 {
		return nil, 0
	}
	entries := l.read(nil)
	total := len(entries)
	if total == 0 {
		return nil, 0
	}
	if total > maxEntries {
		entries = entries[total-maxEntries:]
	}
	return entries, total
}

// Piece returns every entry recorded for piece, oldest first.
func (l *Logbook) Piece(piece string) []Entry {
	if l == nil || piece == "" {
		return nil
	}
	return l.read(func(e Entry) bool { return e.Piece == piece })
}

func (l *Logbook) read(keep func(Entry) bool) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e := ParseEntry(line)
		if keep == nil || keep(e) {
			entries = append(entries, e)
		}
	}
	return entries
}
