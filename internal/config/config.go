// internal/config/config.go
//
// This package handles configuration and the ~/.borrowease directory.
// The verify client and the stub backend both read the same config.yaml;
// environment variables override individual values.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/borrowease-verify/internal/otpflow"
	"github.com/kingrea/borrowease-verify/internal/phone"
	"gopkg.in/yaml.v3"
)

const (
	// HomeDirName is the directory created under the user's home
	HomeDirName = ".borrowease"

	defaultBaseURL             = "http://127.0.0.1:8787/api"
	defaultTimeoutSeconds      = 10
	defaultTokenEnv            = "BORROWEASE_TOKEN"
	defaultMaxAttempts         = 3
	defaultExpirySeconds       = 300
	defaultResendCooldown      = 60
	defaultSendLockoutSeconds  = 60
	defaultSuccessDelayMS      = 1500
	defaultReturnDelayMS       = 2000
	defaultStubHost            = "127.0.0.1"
	defaultStubPort            = 8787
	defaultStubStore           = "memory"
	defaultStubRedisAddr       = "127.0.0.1:6379"
	defaultStubSendCooldownSec = 30
)

const defaultConfigYAML = `# borrowease-verify configuration
version: 1

api:
  # Base URL of the verification API; /otp/send, /otp/verify and /otp/resend hang off it.
  base_url: http://127.0.0.1:8787/api
  timeout_seconds: 10
  # Environment variable holding the bearer token (optional).
  token_env: BORROWEASE_TOKEN

phone:
  # Country selected on start. Numbers for +91 must be 10 digits starting
  # with 6-9 whichever country is the default; every other code accepts
  # 10-15 digits.
  default_country: "+91"
  countries:
    - code: "+91"
      name: India
    - code: "+1"
      name: United States
    - code: "+44"
      name: United Kingdom
    - code: "+61"
      name: Australia
    - code: "+971"
      name: United Arab Emirates

otp:
  max_attempts: 3
  default_expiry_seconds: 300
  resend_cooldown_seconds: 60
  send_lockout_seconds: 60
  success_delay_ms: 1500
  return_delay_ms: 2000

# Local development backend (otp-stub).
stub:
  host: 127.0.0.1
  port: 8787
  store: memory
  # redis_addr: 127.0.0.1:6379
`

// APIConfig points the client at the verification API.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	TokenEnv       string `yaml:"token_env,omitempty"`
}

// CountryConfig is one selectable dialing code.
type CountryConfig struct {
	Code string `yaml:"code"`
	Name string `yaml:"name,omitempty"`
}

// PhoneConfig controls the phone stage.
type PhoneConfig struct {
	DefaultCountry string          `yaml:"default_country"`
	Countries      []CountryConfig `yaml:"countries,omitempty"`
}

// OTPConfig holds the flow timings and limits.
type OTPConfig struct {
	MaxAttempts           int `yaml:"max_attempts"`
	DefaultExpirySeconds  int `yaml:"default_expiry_seconds"`
	ResendCooldownSeconds int `yaml:"resend_cooldown_seconds"`
	SendLockoutSeconds    int `yaml:"send_lockout_seconds"`
	SuccessDelayMS        int `yaml:"success_delay_ms"`
	ReturnDelayMS         int `yaml:"return_delay_ms"`
}

// StubConfig configures the development backend.
type StubConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	Store               string `yaml:"store"`
	RedisAddr           string `yaml:"redis_addr,omitempty"`
	SendCooldownSeconds int    `yaml:"send_cooldown_seconds,omitempty"`
}

// FileConfig models config.yaml.
type FileConfig struct {
	Version int         `yaml:"version"`
	API     APIConfig   `yaml:"api"`
	Phone   PhoneConfig `yaml:"phone"`
	OTP     OTPConfig   `yaml:"otp"`
	Stub    StubConfig  `yaml:"stub"`
}

// Config holds the runtime configuration.
type Config struct {
	// HomeDir is ~/.borrowease or $BORROWEASE_HOME
	HomeDir string

	File FileConfig
}

// ResolveHome returns $BORROWEASE_HOME when set, otherwise ~/.borrowease.
func ResolveHome() (string, error) {
	if home := strings.TrimSpace(os.Getenv("BORROWEASE_HOME")); home != "" {
		return filepath.Clean(home), nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home: %w", err)
	}
	return filepath.Join(userHome, HomeDirName), nil
}

// InitHomeDir creates the directory layout and a default config.yaml.
//
// Structure created:
// ~/.borrowease/
// ├── config.yaml
// └── logs/       <- journey.log (client) and stub.log (backend)
func InitHomeDir(homeDir string) error {
	if err := os.MkdirAll(filepath.Join(homeDir, "logs"), 0o755); err != nil {
		return err
	}
	return ensureConfigFile(filepath.Join(homeDir, "config.yaml"))
}

// NewConfig loads config.yaml from homeDir and applies environment overrides.
func NewConfig(homeDir string) (*Config, error) {
	cfg := &Config{
		HomeDir: homeDir,
		File:    defaultFileConfig(),
	}
	if err := cfg.load(); err != nil {
		return nil, err
	}
	cfg.File.applyEnvOverrides()
	cfg.File.normalize()
	if err := cfg.File.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ConfigPath returns the on-disk location of config.yaml.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.HomeDir, "config.yaml")
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.HomeDir, "logs")
}

// JourneyLogPath is where the client records its progress.
func (c *Config) JourneyLogPath() string {
	return filepath.Join(c.LogsDir(), "journey.log")
}

// StubLogPath is where the stub backend writes.
func (c *Config) StubLogPath() string {
	return filepath.Join(c.LogsDir(), "stub.log")
}

// BaseURL returns the configured API base URL.
func (c *Config) BaseURL() string {
	return c.File.API.BaseURL
}

// RequestTimeout bounds every API call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.File.API.TimeoutSeconds) * time.Second
}

// Token returns the bearer token from the configured environment variable.
func (c *Config) Token() string {
	return strings.TrimSpace(os.Getenv(c.File.API.TokenEnv))
}

// DefaultCountry returns the preselected dialing code.
func (c *Config) DefaultCountry() string {
	return c.File.Phone.DefaultCountry
}

// Countries returns the country selector entries, default country first.
func (c *Config) Countries() []phone.Country {
	out := make([]phone.Country, 0, len(c.File.Phone.Countries))
	for _, cc := range c.File.Phone.Countries {
		out = append(out, phone.Country{Code: cc.Code, Name: cc.Name})
	}
	return out
}

// FlowSettings converts the otp section into state machine settings.
func (c *Config) FlowSettings() otpflow.Settings {
	otp := c.File.OTP
	return otpflow.Settings{
		MaxAttempts:    otp.MaxAttempts,
		DefaultExpiry:  otp.DefaultExpirySeconds,
		ResendCooldown: otp.ResendCooldownSeconds,
		SendLockout:    otp.SendLockoutSeconds,
		SuccessDelay:   time.Duration(otp.SuccessDelayMS) * time.Millisecond,
		ReturnDelay:    time.Duration(otp.ReturnDelayMS) * time.Millisecond,
		DefaultCountry: c.DefaultCountry(),
		Countries:      c.Countries(),
	}
}

func (c *Config) load() error {
	path := c.ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed := FileConfig{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	c.File = parsed
	return nil
}

func defaultFileConfig() FileConfig {
	fc := FileConfig{}
	fc.applyDefaults()
	return fc
}

func (fc *FileConfig) applyDefaults() {
	if fc.Version == 0 {
		fc.Version = 1
	}
	if strings.TrimSpace(fc.API.BaseURL) == "" {
		fc.API.BaseURL = defaultBaseURL
	}
	if fc.API.TimeoutSeconds <= 0 {
		fc.API.TimeoutSeconds = defaultTimeoutSeconds
	}
	if strings.TrimSpace(fc.API.TokenEnv) == "" {
		fc.API.TokenEnv = defaultTokenEnv
	}
	if strings.TrimSpace(fc.Phone.DefaultCountry) == "" {
		fc.Phone.DefaultCountry = phone.DefaultCountryCode
	}
	if len(fc.Phone.Countries) == 0 {
		for _, c := range phone.DefaultCountries {
			fc.Phone.Countries = append(fc.Phone.Countries, CountryConfig{Code: c.Code, Name: c.Name})
		}
	}
	if fc.OTP.MaxAttempts <= 0 {
		fc.OTP.MaxAttempts = defaultMaxAttempts
	}
	if fc.OTP.DefaultExpirySeconds <= 0 {
		fc.OTP.DefaultExpirySeconds = defaultExpirySeconds
	}
	if fc.OTP.ResendCooldownSeconds <= 0 {
		fc.OTP.ResendCooldownSeconds = defaultResendCooldown
	}
	if fc.OTP.SendLockoutSeconds <= 0 {
		fc.OTP.SendLockoutSeconds = defaultSendLockoutSeconds
	}
	if fc.OTP.SuccessDelayMS <= 0 {
		fc.OTP.SuccessDelayMS = defaultSuccessDelayMS
	}
	if fc.OTP.ReturnDelayMS <= 0 {
		fc.OTP.ReturnDelayMS = defaultReturnDelayMS
	}
	if strings.TrimSpace(fc.Stub.Host) == "" {
		fc.Stub.Host = defaultStubHost
	}
	if fc.Stub.Port == 0 {
		fc.Stub.Port = defaultStubPort
	}
	if strings.TrimSpace(fc.Stub.Store) == "" {
		fc.Stub.Store = defaultStubStore
	}
	if strings.TrimSpace(fc.Stub.RedisAddr) == "" {
		fc.Stub.RedisAddr = defaultStubRedisAddr
	}
	if fc.Stub.SendCooldownSeconds <= 0 {
		fc.Stub.SendCooldownSeconds = defaultStubSendCooldownSec
	}
}

func (fc *FileConfig) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("BORROWEASE_API_URL")); value != "" {
		fc.API.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("BORROWEASE_DEFAULT_COUNTRY")); value != "" {
		fc.Phone.DefaultCountry = value
	}
	if value := strings.TrimSpace(os.Getenv("BORROWEASE_STUB_HOST")); value != "" {
		fc.Stub.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("BORROWEASE_STUB_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			fc.Stub.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("BORROWEASE_STUB_STORE")); value != "" {
		fc.Stub.Store = value
	}
	if value := strings.TrimSpace(os.Getenv("BORROWEASE_REDIS_ADDR")); value != "" {
		fc.Stub.RedisAddr = value
	}
}

func (fc *FileConfig) normalize() {
	fc.API.BaseURL = strings.TrimRight(strings.TrimSpace(fc.API.BaseURL), "/")
	fc.API.TokenEnv = strings.TrimSpace(fc.API.TokenEnv)
	fc.Phone.DefaultCountry = phone.NormalizeCountryCode(fc.Phone.DefaultCountry)
	seen := map[string]struct{}{}
	countries := make([]CountryConfig, 0, len(fc.Phone.Countries)+1)
	for _, c := range fc.Phone.Countries {
		c.Code = phone.NormalizeCountryCode(c.Code)
		c.Name = strings.TrimSpace(c.Name)
		if c.Code == "" {
			continue
		}
		if _, ok := seen[c.Code]; ok {
			continue
		}
		seen[c.Code] = struct{}{}
		countries = append(countries, c)
	}
	// default country always leads the list
	def := fc.Phone.DefaultCountry
	ordered := []CountryConfig{{Code: def}}
	for _, c := range countries {
		if c.Code == def {
			ordered[0].Name = c.Name
			continue
		}
		ordered = append(ordered, c)
	}
	fc.Phone.Countries = ordered
	fc.Stub.Host = strings.TrimSpace(fc.Stub.Host)
	fc.Stub.Store = strings.ToLower(strings.TrimSpace(fc.Stub.Store))
	fc.Stub.RedisAddr = strings.TrimSpace(fc.Stub.RedisAddr)
}

func (fc *FileConfig) validate() error {
	if fc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	u, err := url.Parse(fc.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", fc.API.BaseURL)
	}
	if fc.Phone.DefaultCountry == "" {
		return fmt.Errorf("phone.default_country is required")
	}
	if fc.Stub.Port < 0 || fc.Stub.Port > 65535 {
		return fmt.Errorf("stub.port must be between 0 and 65535")
	}
	switch fc.Stub.Store {
	case "memory":
	case "redis":
		if fc.Stub.RedisAddr == "" {
			return fmt.Errorf("stub.redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("stub.store must be 'memory' or 'redis'")
	}
	return nil
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
