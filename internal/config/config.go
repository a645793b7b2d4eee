package config

import (
	"fmt"
	"time"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
)

// Log output formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Config is the top-level configuration structure for the server.
// It is built once by Load and must not be modified afterwards; components
// receive it by pointer through their constructors.
type Config struct {
	Server  ServerConfig  `json:"server" toml:"server" yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig `json:"logging" toml:"logging" yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig holds the listener, document root and caching policy.
type ServerConfig struct {
	Host          string `json:"host" toml:"host" yaml:"host" envconfig:"HOST"`
	Port          int    `json:"port" toml:"port" yaml:"port" envconfig:"PORT" validate:"gte=0,lte=65535"`
	RootDirectory string `json:"root_directory" toml:"root_directory" yaml:"root_directory" envconfig:"ROOT" validate:"required"`
	IndexPageName string `json:"index_page" toml:"index_page" yaml:"index_page" envconfig:"INDEX" validate:"required,excludesall=/"`

	EnableCacheControl bool `json:"cache_control" toml:"cache_control" yaml:"cache_control" envconfig:"CACHE_CONTROL"`
	EnableExpires      bool `json:"expires" toml:"expires" yaml:"expires" envconfig:"EXPIRES"`
	EnableETag         bool `json:"etag" toml:"etag" yaml:"etag" envconfig:"ETAG"`
	EnableLastModified bool `json:"last_modified" toml:"last_modified" yaml:"last_modified" envconfig:"LAST_MODIFIED"`
	MaxAgeSeconds      int  `json:"max_age" toml:"max_age" yaml:"max_age" envconfig:"MAX_AGE" validate:"gte=0"`

	// CompressPattern is matched against the file extension (including the dot)
	// to decide whether a response may be content-encoded.
	CompressPattern   string            `json:"compress_pattern" toml:"compress_pattern" yaml:"compress_pattern" envconfig:"COMPRESS_PATTERN"`
	MimeTypes         map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" yaml:"mime_types,omitempty" envconfig:"MIME_TYPES"`
	SniffUnknownTypes bool              `json:"sniff_unknown_types" toml:"sniff_unknown_types" yaml:"sniff_unknown_types" envconfig:"SNIFF_UNKNOWN_TYPES"`

	// RequestTimeout bounds a whole request, body transfer included. Zero,
	// the default, leaves slow downloads running.
	RequestTimeout  Duration `json:"request_timeout" toml:"request_timeout" yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout Duration `json:"shutdown_timeout" toml:"shutdown_timeout" yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	MaxConnections  int      `json:"max_connections" toml:"max_connections" yaml:"max_connections" envconfig:"MAX_CONNECTIONS" validate:"gte=0"`
	RateLimit       float64  `json:"rate_limit" toml:"rate_limit" yaml:"rate_limit" envconfig:"RATE_LIMIT" validate:"gte=0"`
	RateBurst       int      `json:"rate_burst" toml:"rate_burst" yaml:"rate_burst" envconfig:"RATE_BURST" validate:"gte=0"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	Level          LogLevel `json:"level" toml:"level" yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format         string   `json:"format" toml:"format" yaml:"format" envconfig:"FORMAT" validate:"oneof=json console"`
	AccessLog      bool     `json:"access_log" toml:"access_log" yaml:"access_log" envconfig:"ACCESS_LOG"`
	AccessTarget   string   `json:"access_target" toml:"access_target" yaml:"access_target" envconfig:"ACCESS_TARGET" validate:"required"`
	ErrorTarget    string   `json:"error_target" toml:"error_target" yaml:"error_target" envconfig:"ERROR_TARGET" validate:"required"`
	RealIPHeader   string   `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty" yaml:"real_ip_header,omitempty" envconfig:"REAL_IP_HEADER"`
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty" envconfig:"TRUSTED_PROXIES" validate:"dive,cidr|ip"`
}

// Default returns the built-in configuration every other source overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			RootDirectory:      ".",
			IndexPageName:      "index.html",
			EnableCacheControl: true,
			EnableExpires:      true,
			EnableETag:         true,
			EnableLastModified: true,
			MaxAgeSeconds:      3600,
			CompressPattern:    `^\.(html?|css|js|json|xml|txt|svg|md)$`,
			ShutdownTimeout:    Duration{10 * time.Second},
		},
		Logging: LoggingConfig{
			Level:        LogLevelInfo,
			Format:       LogFormatJSON,
			AccessLog:    true,
			AccessTarget: "stdout",
			ErrorTarget:  "stderr",
		},
	}
}

// Address returns the host:port pair the server listens on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration wraps time.Duration so it can be written as "10s" in config files
// and environment variables.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string. Only positive durations are accepted.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		return fmt.Errorf("duration string cannot be empty")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration string %q: %w", s, err)
	}
	if v <= 0 {
		return fmt.Errorf("duration must be positive, got %q", s)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ConfigError describes a failure tied to a configuration source.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.FilePath != "" {
		msg = fmt.Sprintf("%s: %s", e.FilePath, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}
