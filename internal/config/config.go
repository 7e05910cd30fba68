// Package config loads travelbuddy settings from defaults, an optional
// config file, and TRAVELBUDDY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Hmena01/travelbuddy/pkg/audio"
	"github.com/Hmena01/travelbuddy/pkg/audioio"
	"github.com/Hmena01/travelbuddy/pkg/camera"
	"github.com/Hmena01/travelbuddy/pkg/conversation"
	"github.com/Hmena01/travelbuddy/pkg/voice"
)

// Config is the full travelbuddy configuration tree.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Session   SessionConfig   `mapstructure:"session"`
	Silence   SilenceConfig   `mapstructure:"silence"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// GatewayConfig selects and tunes the conversation gateway connection.
type GatewayConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Path     string `mapstructure:"path"`
	Language string `mapstructure:"language"`

	// Emulator points the client at the Android emulator loopback alias
	// instead of Host.
	Emulator bool `mapstructure:"emulator"`

	ConnectAttempts  int `mapstructure:"connect_attempts"`
	ConnectBackoffMS int `mapstructure:"connect_backoff_ms"`
	DialTimeoutMS    int `mapstructure:"dial_timeout_ms"`
	ProbeTimeoutMS   int `mapstructure:"probe_timeout_ms"`
	PingIntervalMS   int `mapstructure:"ping_interval_ms"`
}

// AudioConfig selects the capture backend and device.
type AudioConfig struct {
	Backend string `mapstructure:"backend"`
	Device  string `mapstructure:"device"`
}

// SessionConfig tunes the turn-taking engine.
type SessionConfig struct {
	BatchIntervalMS    int     `mapstructure:"batch_interval_ms"`
	SettleDelayMS      int     `mapstructure:"settle_delay_ms"`
	Conversation       bool    `mapstructure:"conversation"`
	QuietThresholdDBFS float64 `mapstructure:"quiet_threshold_dbfs"`
}

// SilenceConfig holds the cutoff timings.
type SilenceConfig struct {
	// CutoffMS stops capture after this much user silence.
	CutoffMS int `mapstructure:"cutoff_ms"`
	// CompletionMS completes a turn when reply fragments stop this long.
	CompletionMS int `mapstructure:"completion_ms"`
	// MaxRecordingMS caps a capture regardless of activity. Zero disables.
	MaxRecordingMS int `mapstructure:"max_recording_ms"`
}

// PlaybackConfig tunes the clip player.
type PlaybackConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
}

// CameraConfig selects the still-frame source.
type CameraConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Preset  string `mapstructure:"preset"`
	Device  int    `mapstructure:"device"`
}

// DashboardConfig tunes the diagnostics web server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("gateway.host", "localhost")
	v.SetDefault("gateway.port", 9083)
	v.SetDefault("gateway.path", "/")
	v.SetDefault("gateway.language", "en-US")
	v.SetDefault("gateway.emulator", false)
	v.SetDefault("gateway.connect_attempts", 3)
	v.SetDefault("gateway.connect_backoff_ms", 2000)
	v.SetDefault("gateway.dial_timeout_ms", 5000)
	v.SetDefault("gateway.probe_timeout_ms", 500)
	v.SetDefault("gateway.ping_interval_ms", 20000)

	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.device", "")

	v.SetDefault("session.batch_interval_ms", 100)
	v.SetDefault("session.settle_delay_ms", 800)
	v.SetDefault("session.conversation", false)
	v.SetDefault("session.quiet_threshold_dbfs", -40.0)

	v.SetDefault("silence.cutoff_ms", 3000)
	v.SetDefault("silence.completion_ms", 1000)
	v.SetDefault("silence.max_recording_ms", 10000)

	v.SetDefault("playback.timeout_ms", 15000)

	v.SetDefault("camera.enabled", false)
	v.SetDefault("camera.preset", camera.PresetDefault)
	v.SetDefault("camera.device", 0)

	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.port", 8080)
}

// Load reads the configuration. An explicit path must exist; with an
// empty path a travelbuddy.yaml next to the binary or under
// ~/.config/travelbuddy is used when present. Environment variables win
// over the file: gateway.port becomes TRAVELBUDDY_GATEWAY_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRAVELBUDDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("travelbuddy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/travelbuddy")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the cross-cutting constraints. The per-package configs
// run their own deeper validation when built.
func (c *Config) Validate() error {
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Gateway.ConnectAttempts < 1 {
		return errors.New("gateway.connect_attempts must be at least 1")
	}
	if c.Session.BatchIntervalMS < 1 {
		return errors.New("session.batch_interval_ms must be positive")
	}
	if c.Silence.CutoffMS < 1 || c.Silence.CompletionMS < 1 {
		return errors.New("silence cutoffs must be positive")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	if c.Camera.Enabled {
		if camera.GetPreset(c.Camera.Preset) == nil {
			return fmt.Errorf("camera.preset %q unknown (have %s)",
				c.Camera.Preset, strings.Join(camera.PresetNames(), ", "))
		}
	}
	return nil
}

// ConversationOptions maps the gateway section onto conversation options.
func (c *Config) ConversationOptions() []conversation.Option {
	opts := []conversation.Option{
		conversation.WithHost(c.Gateway.Host),
		conversation.WithPort(c.Gateway.Port),
		conversation.WithPath(c.Gateway.Path),
		conversation.WithLanguage(c.Gateway.Language),
		conversation.WithConnectAttempts(c.Gateway.ConnectAttempts),
		conversation.WithConnectBackoff(ms(c.Gateway.ConnectBackoffMS)),
		conversation.WithDialTimeout(ms(c.Gateway.DialTimeoutMS)),
		conversation.WithProbeTimeout(ms(c.Gateway.ProbeTimeoutMS)),
		conversation.WithPingInterval(ms(c.Gateway.PingIntervalMS)),
	}
	if c.Gateway.Emulator {
		opts = append(opts, conversation.WithAndroidEmulatorHost())
	}
	return opts
}

// VoiceConfig maps the session and silence sections onto the engine config.
func (c *Config) VoiceConfig() voice.Config {
	return voice.DefaultConfig().
		WithBatchInterval(ms(c.Session.BatchIntervalMS)).
		WithSettleDelay(ms(c.Session.SettleDelayMS)).
		WithQuietThreshold(c.Session.QuietThresholdDBFS).
		WithSilence(ms(c.Silence.CutoffMS), ms(c.Silence.CompletionMS)).
		WithMaxRecording(ms(c.Silence.MaxRecordingMS)).
		WithConversation(c.Session.Conversation)
}

// CaptureConfig maps the audio section onto a capture config.
func (c *Config) CaptureConfig() audioio.Config {
	cfg := audioio.DefaultCaptureConfig()
	cfg.Backend = audioio.Backend(c.Audio.Backend)
	cfg.Device = c.Audio.Device
	return cfg
}

// PlayerOptions maps the playback section onto clip player options.
func (c *Config) PlayerOptions() []audio.PlayerOption {
	return []audio.PlayerOption{
		audio.WithMaxClipDuration(ms(c.Playback.TimeoutMS)),
	}
}

// CameraGrabConfig resolves the camera preset plus the device override.
// Returns nil when the camera is disabled.
func (c *Config) CameraGrabConfig() *camera.Config {
	if !c.Camera.Enabled {
		return nil
	}
	cfg := camera.GetPreset(c.Camera.Preset)
	if cfg == nil {
		def := camera.DefaultConfig()
		cfg = &def
	}
	cfg.Device = c.Camera.Device
	return cfg
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
