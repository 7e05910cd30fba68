// Package audioio provides microphone capture and speaker playback for the
// voice conversation pipeline.
//
// This package supports multiple backends:
//   - ALSA (Linux) - capture/playback through arecord and aplay
//   - CoreAudio (macOS) - capture/playback through the sox rec and play tools
//   - Mock - CI/testing without hardware
//
// The backend is selected automatically based on build tags and platform,
// or can be explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Sample rates used by the conversation pipeline. Microphone audio is
// captured and sent upstream at CaptureRate; synthesized speech arrives
// back at PlaybackRate.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendALSA uses Linux ALSA for audio I/O.
	BackendALSA Backend = "alsa"
	// BackendCoreAudio uses macOS CoreAudio for audio I/O.
	BackendCoreAudio Backend = "coreaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (selects best available for platform)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (320 samples at 16kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - ALSA: "hw:0,0", "default", "plughw:1,0"
	//   - CoreAudio: device name or empty for default
	//   - Mock: ignored
	Device string `yaml:"device" json:"device"`
}

// DefaultCaptureConfig returns the configuration for microphone capture.
// Upstream audio is 16kHz mono PCM16.
func DefaultCaptureConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     CaptureRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Device:         "",
	}
}

// DefaultPlaybackConfig returns the configuration for speaker playback.
// Synthesized speech from the gateway is 24kHz mono PCM16.
func DefaultPlaybackConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     PlaybackRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Device:         "",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2 // 2 bytes per int16 sample
}
