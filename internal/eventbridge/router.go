package eventbridge

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/session"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router fans session events out to every subscriber of that session with
// buffering, deduplication, and bounded channel semantics.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
	clock        func() time.Time
	sequence     atomic.Int64
}

// Subscription represents an active session subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop/diagnostic messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides the backlog size for pre-subscription buffering.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// RouterWithClock overrides the server timestamp source.
func RouterWithClock(clock func() time.Time) RouterOption {
	return func(r *Router) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Subscribe registers for the events of one session.
func (r *Router) Subscribe(code string) Subscription {
	key := session.NormalizeCode(code)
	sub := newSubscriber(r.channelSize, r.logger)
	var backlog []Event
	r.mu.Lock()
	if r.subscribers[key] == nil {
		r.subscribers[key] = map[*subscriber]struct{}{}
	}
	r.subscribers[key][sub] = struct{}{}
	if existing := r.backlog[key]; len(existing) > 0 {
		backlog = append(backlog, existing...)
		delete(r.backlog, key)
	}
	r.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(key, sub)
		},
	}
}

// Sink returns an engine sink that routes every event of a piece to the
// session with the given code. It has the shape of session.SinkFactory.
func (r *Router) Sink(code string) engine.Sink {
	return engine.SinkFunc(func(ev engine.Event) {
		r.Route(FromRender(code, ev))
	})
}

// Route stamps, deduplicates and delivers the event, buffering it when the
// session has no subscriber yet.
func (r *Router) Route(event Event) {
	event.Normalize()
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	} else if r.isDuplicate(event.EventID) {
		return
	}
	if event.SessionCode == "" {
		return
	}
	event.Sequence = r.sequence.Add(1)
	event.StampServerTime(r.clock())
	r.mu.RLock()
	subs := r.snapshotSubscribers(event.SessionCode)
	r.mu.RUnlock()
	if len(subs) == 0 {
		r.bufferEvent(event.SessionCode, event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// Forget drops the backlog of a closed session.
func (r *Router) Forget(code string) {
	key := session.NormalizeCode(code)
	r.mu.Lock()
	delete(r.backlog, key)
	r.mu.Unlock()
}

func (r *Router) snapshotSubscribers(key string) []*subscriber {
	live := r.subscribers[key]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(key string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[key]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, key)
		}
	}
	sub.close()
}

// bufferEvent keeps events for a session nobody watches yet. Countdown ticks
// are stale by the time anyone subscribes and are not kept.
func (r *Router) bufferEvent(key string, event Event) {
	if isPreferredDrop(event.Type) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.backlog[key]
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		if r.logger != nil {
			r.logger.Printf("eventbridge: backlog drop for %s (limit %d)", key, r.backlogLimit)
		}
	}
	queue = append(queue, event)
	r.backlog[key] = queue
}

func (r *Router) isDuplicate(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[eventID]; ok {
		return true
	}
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch      chan Event
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver never blocks. On overflow one event is dropped, preferring
// countdown ticks over anything else and never reordering what remains.
func (s *subscriber) deliver(event Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	queued := make([]Event, 0, cap(s.ch))
drain:
	for {
		select {
		case ev := <-s.ch:
			queued = append(queued, ev)
		default:
			break drain
		}
	}
	if len(queued) < cap(s.ch) {
		queued = append(queued, event)
	} else if victim := dropIndex(queued, event); victim < 0 {
		s.logDrop(event, "queue overflow:incoming")
	} else {
		s.logDrop(queued[victim], "queue overflow")
		queued = append(queued[:victim], queued[victim+1:]...)
		queued = append(queued, event)
	}
	for _, ev := range queued {
		select {
		case s.ch <- ev:
		default:
			s.logDrop(ev, "queue overflow")
		}
	}
}

func (s *subscriber) logDrop(event Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("eventbridge: dropped %s for %s (%s)", event.Type, event.SessionCode, reason)
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// dropIndex picks the queued event to discard for incoming, or -1 to discard
// incoming itself. The oldest tick goes first, then the oldest non-critical
// event; a full queue of critical events only yields to another critical one.
func dropIndex(queued []Event, incoming Event) int {
	for i, ev := range queued {
		if isPreferredDrop(ev.Type) {
			return i
		}
	}
	if isPreferredDrop(incoming.Type) {
		return -1
	}
	for i, ev := range queued {
		if !isCriticalEvent(ev.Type) {
			return i
		}
	}
	if isCriticalEvent(incoming.Type) {
		return 0
	}
	return -1
}

func isCriticalEvent(kind string) bool {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case string(engine.KindPieceEnded), string(engine.KindRenderCommit):
		return true
	}
	return false
}

func isPreferredDrop(kind string) bool {
	return strings.ToLower(strings.TrimSpace(kind)) == string(engine.KindRenderTick)
}
