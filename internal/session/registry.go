package session

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/piece"
)

const (
	// MaxPlayers caps a roster.
	MaxPlayers = 12
	// CodeLength is the number of letters in a join code.
	CodeLength = 4
	// DefaultExpiry is how long an idle session survives cleanup.
	DefaultExpiry = 2 * time.Hour

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Logger is the minimal logging surface used by the registry.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// SinkFactory returns the event consumer for the piece performed in the
// session with the given code.
type SinkFactory func(code string) engine.Sink

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock used for timestamps and expiry.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithLogger injects a diagnostic logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRand sets the source for join codes.
func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) {
		if rng != nil {
			r.rng = rng
		}
	}
}

// WithSinkFactory routes engine events of every piece.
func WithSinkFactory(f SinkFactory) Option {
	return func(r *Registry) {
		if f != nil {
			r.sinks = f
		}
	}
}

// WithEngineOptions are applied to every engine the registry builds.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(r *Registry) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

// WithExpiry overrides how long idle sessions survive cleanup.
func WithExpiry(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.expiry = d
		}
	}
}

// Registry holds every live session keyed by code.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	rngMu      sync.Mutex
	rng        *rand.Rand
	now        func() time.Time
	logger     Logger
	sinks      SinkFactory
	engineOpts []engine.Option
	expiry     time.Duration
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: map[string]*Session{},
		now:      time.Now,
		logger:   nopLogger{},
		sinks:    func(string) engine.Sink { return nil },
		expiry:   DefaultExpiry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r
}

// NormalizeCode upper-cases and trims a join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code has the join-code shape.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// Create opens a lobby whose conductor is its first player.
func (r *Registry) Create(settings piece.Settings, conductorNickname, message string) (*Session, Player, error) {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return nil, Player{}, fmt.Errorf("session: create: %w", err)
	}
	now := r.now()
	conductor := Player{ID: uuid.NewString(), Nickname: cleanNickname(conductorNickname, 0), JoinedAt: now}
	if strings.TrimSpace(message) == "" {
		message = defaultMessage(settings.DurationMinutes)
	}
	s := &Session{
		state:       StateLobby,
		conductorID: conductor.ID,
		players:     []Player{conductor},
		settings:    settings,
		message:     message,
		createdAt:   now,
	}

	r.mu.Lock()
	s.code = r.uniqueCodeLocked()
	r.sessions[s.code] = s
	r.mu.Unlock()
	r.logger.Printf("session: %s created", s.code)
	return s, conductor, nil
}

func (r *Registry) uniqueCodeLocked() string {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	for {
		var b strings.Builder
		for i := 0; i < CodeLength; i++ {
			b.WriteByte(codeAlphabet[r.rng.Intn(len(codeAlphabet))])
		}
		if _, taken := r.sessions[b.String()]; !taken {
			return b.String()
		}
	}
}

// Get looks a session up by code.
func (r *Registry) Get(code string) (*Session, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[code]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns every session, in no particular order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Join adds a player. Joining a performing session is allowed; the new
// performer rests until the next piece covers the larger roster.
func (r *Registry) Join(code, nickname string) (Player, Info, error) {
	s, err := r.Get(code)
	if err != nil {
		return Player{}, Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return Player{}, Info{}, ErrEnded
	}
	if len(s.players) >= MaxPlayers {
		return Player{}, Info{}, ErrFull
	}
	p := Player{ID: uuid.NewString(), Nickname: cleanNickname(nickname, len(s.players)), JoinedAt: r.now()}
	s.players = append(s.players, p)
	r.logger.Printf("session: %s player %s joined (%d players, %s)", s.code, p.Nickname, len(s.players), s.state)
	return p, s.infoLocked(), nil
}

// Rename changes a nickname; blank names fall back to "Player N".
func (r *Registry) Rename(code, playerID, nickname string) (Info, error) {
	s, err := r.Get(code)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(playerID)
	if idx < 0 {
		return Info{}, ErrNotPlayer
	}
	s.players[idx].Nickname = cleanNickname(nickname, idx)
	return s.infoLocked(), nil
}

// Leave removes a player. A departing conductor hands over to the next
// player in roster order; an empty session is deleted.
func (r *Registry) Leave(code, playerID string) (Info, error) {
	s, err := r.Get(code)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	idx := s.indexLocked(playerID)
	if idx < 0 {
		s.mu.Unlock()
		return Info{}, ErrNotPlayer
	}
	s.players = append(s.players[:idx], s.players[idx+1:]...)
	empty := len(s.players) == 0
	if !empty && s.conductorID == playerID {
		s.conductorID = s.players[0].ID
		r.logger.Printf("session: %s conductor handed to %s", s.code, s.players[0].Nickname)
	}
	info := s.infoLocked()
	eng := s.engine
	s.mu.Unlock()

	if empty {
		if eng != nil {
			_ = eng.End(0)
		}
		r.remove(s.code)
	}
	return info, nil
}

// UpdateSettings replaces the settings of a lobby. Only the conductor may
// change them.
func (r *Registry) UpdateSettings(code, playerID string, settings piece.Settings) (Info, error) {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return Info{}, fmt.Errorf("session: update settings: %w", err)
	}
	s, err := r.Get(code)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conductorID != playerID {
		return Info{}, ErrNotConductor
	}
	if s.state != StateLobby {
		return Info{}, ErrNotInLobby
	}
	s.settings = settings
	return s.infoLocked(), nil
}

// UpdateMessage replaces the instructions shown before a piece.
func (r *Registry) UpdateMessage(code, playerID, message string) (Info, error) {
	s, err := r.Get(code)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conductorID != playerID {
		return Info{}, ErrNotConductor
	}
	s.message = strings.TrimSpace(message)
	return s.infoLocked(), nil
}

// Start performs a new piece with one performer per roster entry.
func (r *Registry) Start(code, playerID string) (*engine.Engine, error) {
	s, err := r.Get(code)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conductorID != playerID {
		return nil, ErrNotConductor
	}
	switch s.state {
	case StatePerforming:
		return nil, engine.ErrAlreadyStarted
	case StateEnded:
		return nil, ErrEnded
	}
	if len(s.players) < 1 {
		return nil, ErrNoPlayers
	}
	settings := s.settings.WithPlayers(len(s.players))

	opts := append([]engine.Option(nil), r.engineOpts...)
	opts = append(opts, engine.WithSink(r.sinkFor(s)), engine.WithLogger(r.logger))
	eng := engine.New(opts...)
	if err := eng.Start(settings); err != nil {
		return nil, fmt.Errorf("session %s: %w", s.code, err)
	}
	s.settings = settings
	s.engine = eng
	s.state = StatePerforming
	s.startedAt = r.now()
	r.logger.Printf("session: %s performing piece %s with %d players", s.code, eng.ID(), len(s.players))
	return eng, nil
}

// End cuts the current piece short, counting every performer down to rest.
func (r *Registry) End(code, playerID string) error {
	s, err := r.Get(code)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.conductorID != playerID {
		s.mu.Unlock()
		return ErrNotConductor
	}
	eng := s.engine
	n := len(s.players)
	performing := s.state == StatePerforming
	s.mu.Unlock()
	if !performing || eng == nil {
		return engine.ErrNotRunning
	}
	return eng.End(n)
}

// ReturnToLobby reopens an ended session for another piece.
func (r *Registry) ReturnToLobby(code string) (Info, error) {
	s, err := r.Get(code)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		s.state = StateLobby
	}
	return s.infoLocked(), nil
}

// Cleanup removes sessions older than the expiry that are not performing and
// returns their codes.
func (r *Registry) Cleanup() []string {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for code, s := range r.sessions {
		s.mu.Lock()
		expired := s.state != StatePerforming && now.Sub(s.createdAt) > r.expiry
		s.mu.Unlock()
		if expired {
			delete(r.sessions, code)
			removed = append(removed, code)
			r.logger.Printf("session: %s expired", code)
		}
	}
	return removed
}

func (r *Registry) remove(code string) {
	r.mu.Lock()
	delete(r.sessions, code)
	r.mu.Unlock()
	r.logger.Printf("session: %s closed (no players left)", code)
}

// sinkFor marks the session ended once its piece finishes, then forwards to
// the configured sink. Caller holds s.mu; the returned sink takes it later.
func (r *Registry) sinkFor(s *Session) engine.Sink {
	next := r.sinks(s.code)
	return engine.SinkFunc(func(ev engine.Event) {
		if ev.Kind == engine.KindPieceEnded {
			s.mu.Lock()
			if s.engine != nil && s.engine.ID() == ev.PieceID {
				s.state = StateEnded
			}
			s.mu.Unlock()
			r.logger.Printf("session: %s piece %s ended", s.code, ev.PieceID)
		}
		if next != nil {
			next.Emit(ev)
		}
	})
}
