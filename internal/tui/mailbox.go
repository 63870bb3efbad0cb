package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clarke68/improv-score/internal/engine"
)

// engineEventsMsg delivers every engine event queued since the last one.
type engineEventsMsg struct {
	events []engine.Event
}

// mailbox is the engine sink feeding the bubbletea loop. Emit never blocks,
// so a slow terminal cannot stall the engine's timers.
type mailbox struct {
	mu      sync.Mutex
	pending []engine.Event
	notify  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// Emit implements engine.Sink.
func (m *mailbox) Emit(ev engine.Event) {
	m.mu.Lock()
	m.pending = append(m.pending, ev)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []engine.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

// wait blocks until at least one event was emitted since the last take.
func (m *mailbox) wait() tea.Cmd {
	return func() tea.Msg {
		<-m.notify
		return engineEventsMsg{events: m.take()}
	}
}
