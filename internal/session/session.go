// Package session keeps the roster and lifecycle of performance sessions and
// owns one engine per performed piece.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/piece"
)

var (
	ErrNotFound     = errors.New("session: not found")
	ErrFull         = errors.New("session: full")
	ErrEnded        = errors.New("session: ended")
	ErrNotInLobby   = errors.New("session: settings are locked outside the lobby")
	ErrNotConductor = errors.New("session: only the conductor may do that")
	ErrNoPlayers    = errors.New("session: need at least one player to start")
	ErrNotPlayer    = errors.New("session: unknown player")
)

// State is the lifecycle of a session.
type State string

const (
	StateLobby      State = "lobby"
	StatePerforming State = "performing"
	StateEnded      State = "ended"
)

// Player is one roster entry. The roster order is the performer index.
type Player struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
}

// Info is a read-only view of a session.
type Info struct {
	Code        string         `json:"code"`
	State       State          `json:"state"`
	ConductorID string         `json:"conductor_id"`
	Players     []Player       `json:"players"`
	Settings    piece.Settings `json:"settings"`
	Message     string         `json:"instructional_message"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	PieceID     string         `json:"piece_id,omitempty"`
}

// Session is one room. All fields are guarded by mu.
type Session struct {
	mu          sync.Mutex
	code        string
	state       State
	conductorID string
	players     []Player
	settings    piece.Settings
	message     string
	createdAt   time.Time
	startedAt   time.Time
	engine      *engine.Engine
}

// Code returns the join code.
func (s *Session) Code() string { return s.code }

// Info snapshots the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	info := Info{
		Code:        s.code,
		State:       s.state,
		ConductorID: s.conductorID,
		Players:     append([]Player(nil), s.players...),
		Settings:    s.settings,
		Message:     s.message,
		CreatedAt:   s.createdAt,
		StartedAt:   s.startedAt,
	}
	if s.engine != nil {
		info.PieceID = s.engine.ID()
	}
	return info
}

// Engine returns the engine of the current or last piece, if any.
func (s *Session) Engine() *engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// PlayerIndex returns the performer index of playerID, or -1.
func (s *Session) PlayerIndex(playerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(playerID)
}

func (s *Session) indexLocked(playerID string) int {
	for i, p := range s.players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// Snapshot returns the current cues and countdowns sized for the whole
// roster, including players who joined after the piece started.
func (s *Session) Snapshot() (engine.Snapshot, error) {
	s.mu.Lock()
	eng := s.engine
	n := len(s.players)
	s.mu.Unlock()
	if eng == nil {
		return engine.Snapshot{}, fmt.Errorf("session %s: no piece has started", s.code)
	}
	return eng.Snapshot(n), nil
}

func defaultNickname(index int) string {
	return fmt.Sprintf("Player %d", index+1)
}

func cleanNickname(nickname string, index int) string {
	if trimmed := strings.TrimSpace(nickname); trimmed != "" {
		return trimmed
	}
	return defaultNickname(index)
}

func defaultMessage(minutes float64) string {
	return fmt.Sprintf("When the performance begins, you will receive visual cues indicating when to play and at what dynamic level. "+
		"Listen carefully to your fellow musicians and respond to the dynamics shown on your screen. "+
		"Rests are as important as playing - use them to listen and prepare. "+
		"The piece will end automatically after %g minutes.", minutes)
}
