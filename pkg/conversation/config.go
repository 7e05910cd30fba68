package conversation

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// AndroidEmulatorHost is the loopback alias the Android emulator exposes for
// the machine it runs on. A gateway on the development host is reached at
// this address from inside the emulator.
const AndroidEmulatorHost = "10.0.2.2"

// Config holds the configuration for a gateway connection.
type Config struct {
	// Host is the gateway hostname or IP address.
	Host string

	// Port is the gateway WebSocket port.
	Port int

	// Path is the WebSocket endpoint path.
	Path string

	// Language is the BCP 47 language tag sent in the setup frame.
	Language string

	// ConnectAttempts is how many times Connect dials before giving up.
	ConnectAttempts int

	// ConnectBackoff is the fixed delay between connect attempts.
	ConnectBackoff time.Duration

	// DialTimeout is the maximum time for the WebSocket handshake.
	DialTimeout time.Duration

	// ProbeTimeout is how long a fresh connection must stay alive before
	// an attempt counts as successful.
	ProbeTimeout time.Duration

	// ReadTimeout is the maximum time to wait for a message.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time for a single write.
	WriteTimeout time.Duration

	// PingInterval is how often keep-alive pings are sent.
	PingInterval time.Duration

	// SendBuffer is the outbound frame queue capacity.
	SendBuffer int

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            9083,
		Path:            "/",
		Language:        "en-US",
		ConnectAttempts: 3,
		ConnectBackoff:  2 * time.Second,
		DialTimeout:     5 * time.Second,
		ProbeTimeout:    500 * time.Millisecond,
		ReadTimeout:     5 * time.Minute,
		WriteTimeout:    10 * time.Second,
		PingInterval:    20 * time.Second,
		SendBuffer:      64,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("conversation: host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("conversation: invalid port %d", c.Port)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("conversation: connect attempts must be at least 1")
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("conversation: send buffer must be at least 1")
	}
	return nil
}

// URL returns the WebSocket URL for the gateway.
func (c *Config) URL() string {
	path := c.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("ws://%s:%d%s", c.Host, c.Port, path)
}

// Option is a function that modifies the configuration.
type Option func(*Config)

// WithHost sets the gateway host.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithPort sets the gateway port.
func WithPort(port int) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithAndroidEmulatorHost points the client at a gateway running on the
// machine hosting an Android emulator.
func WithAndroidEmulatorHost() Option {
	return func(c *Config) {
		c.Host = AndroidEmulatorHost
	}
}

// WithPath sets the WebSocket endpoint path.
func WithPath(path string) Option {
	return func(c *Config) {
		c.Path = path
	}
}

// WithLanguage sets the language tag sent in the setup frame.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Language = lang
	}
}

// WithConnectAttempts sets how many times Connect dials before giving up.
func WithConnectAttempts(n int) Option {
	return func(c *Config) {
		c.ConnectAttempts = n
	}
}

// WithConnectBackoff sets the delay between connect attempts.
func WithConnectBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectBackoff = d
	}
}

// WithDialTimeout sets the WebSocket handshake timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.DialTimeout = d
	}
}

// WithProbeTimeout sets how long a fresh connection must survive before the
// attempt counts as successful.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ProbeTimeout = d
	}
}

// WithReadTimeout sets the read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithWriteTimeout sets the write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithPingInterval sets the keep-alive ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = d
	}
}

// WithSendBuffer sets the outbound frame queue capacity.
func WithSendBuffer(n int) Option {
	return func(c *Config) {
		c.SendBuffer = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
