package eventbridge

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clarke68/improv-score/internal/config"
	"github.com/clarke68/improv-score/internal/session"
)

// Listener defaults. The bridge binds to loopback unless a host is given.
const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 8765
	DefaultMaxBodyBytes = int64(64 << 10)
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 15 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
)

// Session lifecycle defaults.
const (
	// DefaultHeartbeat keeps idle cue streams open between prompts.
	DefaultHeartbeat = 15 * time.Second
	// DefaultCleanupInterval is how often expired sessions are swept.
	DefaultCleanupInterval = 5 * time.Minute
	// DefaultSessionExpiry matches the registry's own default.
	DefaultSessionExpiry = session.DefaultExpiry
	// minCleanupInterval floors the sweep when the expiry is tiny.
	minCleanupInterval = time.Second
)

// Environment variables read by SettingsFromConfig.
const (
	EnvEnabled       = "IMPROV_BRIDGE_ENABLED"
	EnvHost          = "IMPROV_BRIDGE_HOST"
	EnvPort          = "IMPROV_BRIDGE_PORT"
	EnvSessionExpiry = "IMPROV_SESSION_EXPIRY"
)

// Settings is the resolved configuration of the session bridge: where it
// listens and how long lobbies and cue streams are kept alive.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Heartbeat     time.Duration
	Cleanup       time.Duration
	SessionExpiry time.Duration
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Enabled:       true,
		Host:          DefaultHost,
		Port:          DefaultPort,
		MaxBodyBytes:  DefaultMaxBodyBytes,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		IdleTimeout:   DefaultIdleTimeout,
		Heartbeat:     DefaultHeartbeat,
		Cleanup:       DefaultCleanupInterval,
		SessionExpiry: DefaultSessionExpiry,
	}
}

// SettingsFromConfig layers the project's bridge section and then the
// environment over DefaultSettings.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := DefaultSettings()
	if cfg != nil {
		settings.applyProject(cfg.Project.Bridge)
	}
	settings.applyEnv()
	settings.normalize()
	return settings
}

func (s *Settings) applyProject(raw config.BridgeConfig) {
	if raw.Enabled != nil {
		s.Enabled = *raw.Enabled
	}
	if host := strings.TrimSpace(raw.Host); host != "" {
		s.Host = host
	}
	if isValidPort(raw.Port) {
		s.Port = raw.Port
	}
	if raw.Heartbeat > 0 {
		s.Heartbeat = raw.Heartbeat
	}
	if raw.SessionExpiry > 0 {
		s.SessionExpiry = raw.SessionExpiry
	}
	if raw.CleanupInterval > 0 {
		s.Cleanup = raw.CleanupInterval
	}
}

func (s *Settings) applyEnv() {
	if value := strings.TrimSpace(os.Getenv(EnvEnabled)); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			s.Enabled = enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv(EnvHost)); host != "" {
		s.Host = host
	}
	if port := strings.TrimSpace(os.Getenv(EnvPort)); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed) {
			s.Port = parsed
		}
	}
	if expiry := strings.TrimSpace(os.Getenv(EnvSessionExpiry)); expiry != "" {
		if parsed, err := time.ParseDuration(expiry); err == nil && parsed > 0 {
			s.SessionExpiry = parsed
		}
	}
}

// normalize fills unset fields and keeps the sweep no coarser than the
// expiry.
func (s *Settings) normalize() {
	def := DefaultSettings()
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = def.Host
	}
	if !isValidPort(s.Port) {
		s.Port = def.Port
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = def.MaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = def.ReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = def.WriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = def.IdleTimeout
	}
	if s.Heartbeat <= 0 {
		s.Heartbeat = def.Heartbeat
	}
	if s.SessionExpiry <= 0 {
		s.SessionExpiry = def.SessionExpiry
	}
	if s.Cleanup <= 0 {
		s.Cleanup = def.Cleanup
	}
	if s.Cleanup > s.SessionExpiry {
		s.Cleanup = s.SessionExpiry
	}
	if s.Cleanup < minCleanupInterval {
		s.Cleanup = minCleanupInterval
	}
}

// RegistryOptions returns the session registry options implied by s.
func (s Settings) RegistryOptions() []session.Option {
	return []session.Option{session.WithExpiry(s.SessionExpiry)}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the base URL that performers open to join.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
