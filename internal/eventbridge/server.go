package eventbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/piece"
	"github.com/clarke68/improv-score/internal/session"
	"github.com/clarke68/improv-score/internal/simulator"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var (
	errServerDisabled = errors.New("eventbridge: server disabled")
	errBadRequest     = errors.New("bad request")
)

// Server wraps the HTTP listener and handlers backing the session bridge.
type Server struct {
	settings Settings
	registry *session.Registry
	router   *Router
	defaults piece.Settings
	logger   Logger
	clock    func() time.Time

	mu          sync.RWMutex
	server      *http.Server
	listener    net.Listener
	status      ServerStatus
	startTime   time.Time
	routerReady bool
	stopCleanup chan struct{}
}

// Option customizes server construction.
type Option func(*Server)

// WithRegistry overrides the session registry. Its sink factory should be
// the router's Sink so that renders reach stream subscribers.
func WithRegistry(r *session.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithRouter overrides the event router.
func WithRouter(r *Router) Option {
	return func(s *Server) {
		if r != nil {
			s.router = r
		}
	}
}

// WithDefaultSettings sets the piece settings new sessions start from.
func WithDefaultSettings(settings piece.Settings) Option {
	return func(s *Server) {
		s.defaults = settings
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge server using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		defaults: piece.Defaults(),
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.router == nil {
		s.router = NewRouter(RouterWithLogger(s.logger), RouterWithClock(s.clock))
	}
	if s.registry == nil {
		opts := append(s.settings.RegistryOptions(),
			session.WithSinkFactory(s.router.Sink),
			session.WithLogger(s.logger),
		)
		s.registry = session.NewRegistry(opts...)
	}
	return s
}

// Registry exposes the sessions served by this bridge.
func (s *Server) Registry() *session.Registry { return s.registry }

// Handler returns the HTTP routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSession)
	mux.HandleFunc("/simulate", s.handleSimulate)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("eventbridge: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("eventbridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("eventbridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.routerReady = true
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	s.stopCleanup = make(chan struct{})
	go s.cleanupLoop(s.stopCleanup)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("eventbridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("eventbridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	if s.stopCleanup != nil {
		close(s.stopCleanup)
		s.stopCleanup = nil
	}
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.now().Sub(s.startTime).Seconds())
}

func (s *Server) cleanupLoop(stop <-chan struct{}) {
	interval := s.settings.Cleanup
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, code := range s.registry.Cleanup() {
				s.router.Forget(code)
			}
		}
	}
}

func (s *Server) publish(info session.Info) {
	s.router.Route(FromSession(info))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.mu.RLock()
	ready := s.routerReady
	s.mu.RUnlock()
	resp := healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		RouterReady:   ready,
		Sessions:      len(s.registry.List()),
		UptimeSeconds: s.uptimeSeconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

type createRequest struct {
	Nickname string              `json:"nickname"`
	Message  string              `json:"instructional_message"`
	Settings jsoniter.RawMessage `json:"settings"`
}

type playerRequest struct {
	PlayerID string              `json:"player_id"`
	Nickname string              `json:"nickname"`
	Message  string              `json:"instructional_message"`
	Settings jsoniter.RawMessage `json:"settings"`
}

type sessionResponse struct {
	Session session.Info    `json:"session"`
	Player  *session.Player `json:"player,omitempty"`
}

type cuesResponse struct {
	Snapshot    engine.Snapshot `json:"snapshot"`
	PlayerIndex int             `json:"player_index"`
}

type simulateRequest struct {
	Settings jsoniter.RawMessage `json:"settings"`
	Seed     int64               `json:"seed"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.List()})
	case http.MethodPost:
		var req createRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		settings, err := decodeSettings(req.Settings, s.defaults)
		if err != nil {
			writeError(w, err)
			return
		}
		sess, conductor, err := s.registry.Create(settings, req.Nickname, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionResponse{Session: sess.Info(), Player: &conductor})
	default:
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodPost))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleSession serves /sessions/{code} and /sessions/{code}/{action}.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	code, action, _ := strings.Cut(rest, "/")
	sess, err := s.registry.Get(code)
	if err != nil {
		writeError(w, err)
		return
	}
	code = sess.Code()

	method := http.MethodPost
	switch action {
	case "", "cues", "stream":
		method = http.MethodGet
	}
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	switch action {
	case "":
		writeJSON(w, http.StatusOK, sessionResponse{Session: sess.Info()})
		return
	case "cues":
		s.handleCues(w, r, sess)
		return
	case "stream":
		s.handleStream(w, r, sess)
		return
	}

	var req playerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	var (
		info   session.Info
		player *session.Player
		status = http.StatusOK
	)
	switch action {
	case "join":
		var p session.Player
		p, info, err = s.registry.Join(code, req.Nickname)
		player = &p
	case "rename":
		info, err = s.registry.Rename(code, req.PlayerID, req.Nickname)
	case "leave":
		info, err = s.registry.Leave(code, req.PlayerID)
		if err == nil && len(info.Players) == 0 {
			s.router.Forget(code)
			writeJSON(w, http.StatusOK, sessionResponse{Session: info})
			return
		}
	case "settings":
		var settings piece.Settings
		settings, err = decodeSettings(req.Settings, sess.Info().Settings)
		if err == nil {
			info, err = s.registry.UpdateSettings(code, req.PlayerID, settings)
		}
	case "message":
		info, err = s.registry.UpdateMessage(code, req.PlayerID, req.Message)
	case "start":
		_, err = s.registry.Start(code, req.PlayerID)
		info = sess.Info()
		status = http.StatusAccepted
	case "end":
		err = s.registry.End(code, req.PlayerID)
		info = sess.Info()
		status = http.StatusAccepted
	case "lobby":
		info, err = s.registry.ReturnToLobby(code)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.publish(info)
	writeJSON(w, status, sessionResponse{Session: info, Player: player})
}

func (s *Server) handleCues(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	snap, err := sess.Snapshot()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cuesResponse{
		Snapshot:    snap,
		PlayerIndex: sess.PlayerIndex(r.URL.Query().Get("player_id")),
	})
}

// handleStream serves server-sent events for one session. The first message
// is a snapshot so that a late joiner can render the current moment.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	rc := http.NewResponseController(w)
	sub := s.router.Subscribe(sess.Code())
	defer sub.Close()
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Printf("eventbridge: stream %s: flush unsupported: %v", sess.Code(), err)
		return
	}

	info := sess.Info()
	first := Event{
		Version:     EventSchemaVersion,
		EventID:     uuid.NewString(),
		Type:        TypeSnapshot,
		ServerTime:  s.now(),
		SessionCode: info.Code,
		Session:     &info,
	}
	if snap, err := sess.Snapshot(); err == nil {
		first.Snapshot = &snap
	}
	if err := writeSSE(w, rc, first); err != nil {
		return
	}

	heartbeat := s.settings.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSE(w, rc, ev); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req simulateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	settings, err := decodeSettings(req.Settings, s.defaults)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := simulator.Run(r.Context(), simulator.Options{
		Settings: settings,
		Mode:     simulator.ModeVirtual,
		Seed:     req.Seed,
		Logger:   s.logger,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// decodeBody reads a size-limited JSON body into dst. An empty body leaves
// dst untouched. It writes the error response itself and reports success.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	limit := s.settings.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	reader := http.MaxBytesReader(w, r.Body, limit)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

func decodeSettings(raw jsoniter.RawMessage, base piece.Settings) (piece.Settings, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return base, nil
	}
	settings, err := piece.DecodeJSON(trimmed, base)
	if err != nil && !errors.Is(err, piece.ErrInvalidSettings) {
		return piece.Settings{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return settings, err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrNotPlayer):
		return http.StatusNotFound
	case errors.Is(err, session.ErrEnded):
		return http.StatusGone
	case errors.Is(err, session.ErrNotConductor):
		return http.StatusForbidden
	case errors.Is(err, session.ErrFull),
		errors.Is(err, session.ErrNotInLobby),
		errors.Is(err, session.ErrNoPlayers),
		errors.Is(err, engine.ErrAlreadyStarted),
		errors.Is(err, engine.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, piece.ErrInvalidSettings), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeSSE(w http.ResponseWriter, rc *http.ResponseController, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return rc.Flush()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
