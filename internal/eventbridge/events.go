package eventbridge

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/session"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the version stamped on every outbound event.
	EventSchemaVersion = 1
)

// Event types beyond the engine kinds.
const (
	TypeSessionUpdated = "session_updated"
	TypeSnapshot       = "snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one message fanned out to the subscribers of a session.
type Event struct {
	Version     int              `json:"version"`
	EventID     string           `json:"event_id"`
	Sequence    int64            `json:"sequence"`
	Type        string           `json:"type"`
	ServerTime  time.Time        `json:"server_time"`
	SessionCode string           `json:"session_code"`
	Render      *engine.Event    `json:"render,omitempty"`
	Session     *session.Info    `json:"session,omitempty"`
	// Snapshot is set on the first message of a stream for late joiners.
	Snapshot    *engine.Snapshot `json:"snapshot,omitempty"`
}

// Normalize applies defaults and canonical formatting.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.TrimSpace(e.Type)
	e.SessionCode = session.NormalizeCode(e.SessionCode)
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// FromRender wraps an engine event for the session with the given code.
func FromRender(code string, ev engine.Event) Event {
	render := ev
	return Event{
		Version:     EventSchemaVersion,
		EventID:     ev.ID,
		Type:        string(ev.Kind),
		SessionCode: session.NormalizeCode(code),
		Render:      &render,
	}
}

// FromSession wraps a roster or settings change.
func FromSession(info session.Info) Event {
	return Event{
		Version:     EventSchemaVersion,
		Type:        TypeSessionUpdated,
		SessionCode: info.Code,
		Session:     &info,
	}
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RouterReady   bool   `json:"router_ready"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
