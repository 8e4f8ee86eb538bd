package stubserver

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/borrowease-verify/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort matches the client's default base URL.
	DefaultPort = 8787
	// DefaultMaxBodyBytes limits request payloads to 4 KB.
	DefaultMaxBodyBytes int64 = 4 << 10
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second

	defaultCodeTTL      = 300 * time.Second
	defaultSendCooldown = 30 * time.Second
	defaultMaxAttempts  = 3
	defaultLockDuration = 60 * time.Second
	defaultPrefix       = "/api"
)

// Settings captures runtime configuration for the stub backend.
type Settings struct {
	Host         string
	Port         int
	PathPrefix   string
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// CodeTTL is how long an issued code stays valid.
	CodeTTL time.Duration
	// SendCooldown is the minimum gap between two sends to one number.
	SendCooldown time.Duration
	// MaxAttempts wrong codes lock the number for LockDuration.
	MaxAttempts  int
	LockDuration time.Duration

	// Store is "memory" or "redis".
	Store     string
	RedisAddr string
}

// SettingsFromConfig builds Settings from config.yaml; environment overrides
// were already applied by the config package.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		Host:       DefaultHost,
		Port:       DefaultPort,
		PathPrefix: defaultPrefix,
	}
	if cfg != nil {
		stub := cfg.File.Stub
		settings.Host = stub.Host
		if isValidPort(stub.Port) {
			settings.Port = stub.Port
		}
		settings.Store = stub.Store
		settings.RedisAddr = stub.RedisAddr
		settings.SendCooldown = time.Duration(stub.SendCooldownSeconds) * time.Second
		settings.CodeTTL = time.Duration(cfg.File.OTP.DefaultExpirySeconds) * time.Second
		settings.MaxAttempts = cfg.File.OTP.MaxAttempts
		settings.LockDuration = time.Duration(cfg.File.OTP.SendLockoutSeconds) * time.Second
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	if s == nil {
		return
	}
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	s.PathPrefix = "/" + strings.Trim(strings.TrimSpace(s.PathPrefix), "/")
	if s.PathPrefix == "/" {
		s.PathPrefix = ""
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.CodeTTL <= 0 {
		s.CodeTTL = defaultCodeTTL
	}
	if s.SendCooldown <= 0 {
		s.SendCooldown = defaultSendCooldown
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = defaultMaxAttempts
	}
	if s.LockDuration <= 0 {
		s.LockDuration = defaultLockDuration
	}
	s.Store = strings.ToLower(strings.TrimSpace(s.Store))
	if s.Store == "" {
		s.Store = "memory"
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the API base URL, prefix included.
func (s Settings) URL() string {
	return "http://" + s.Address() + s.PathPrefix
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
