package voice

import (
	"errors"
	"time"
)

// Config holds all tunable parameters for the session engine.
// Parameters are organized by pipeline stage.
type Config struct {
	// Capture settings
	BatchInterval time.Duration // Buffered audio flush cadence (default: 100ms)
	MaxRecording  time.Duration // Absolute capture cap, fires even with activity (default: 10s)

	// Outbound silence cutoff (stop capturing when the user goes quiet)
	OutboundSilence time.Duration // Idle duration that stops capture (default: 3s)
	OutboundTick    time.Duration // Outbound watcher cadence (default: 1s)

	// Inbound silence cutoff (infer turn completion when fragments stop)
	InboundSilence time.Duration // Idle duration that completes a turn (default: 1s)
	InboundTick    time.Duration // Inbound watcher cadence (default: 200ms)

	// QuietThresholdDBFS is the level below which a capture chunk counts
	// as silence for the outbound watcher. Live microphones deliver
	// frames continuously; only audible chunks reset the cutoff.
	QuietThresholdDBFS float64 // default: -40

	// SettleDelay is the pause between a finished reply and the
	// automatic re-listen in continuous mode (default: 800ms)
	SettleDelay time.Duration

	// Conversation enables continuous turn-taking from the start.
	Conversation bool
}

// DefaultConfig returns a Config with the standard timings.
func DefaultConfig() Config {
	return Config{
		BatchInterval: 100 * time.Millisecond,
		MaxRecording:  10 * time.Second,

		OutboundSilence: 3 * time.Second,
		OutboundTick:    time.Second,

		InboundSilence: time.Second,
		InboundTick:    200 * time.Millisecond,

		QuietThresholdDBFS: -40,

		SettleDelay: 800 * time.Millisecond,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.BatchInterval <= 0 {
		return errors.New("voice: batch interval must be positive")
	}
	if c.OutboundTick <= 0 || c.InboundTick <= 0 {
		return errors.New("voice: watcher tick must be positive")
	}
	if c.OutboundSilence < c.OutboundTick {
		return errors.New("voice: outbound silence below tick resolution")
	}
	if c.InboundSilence < c.InboundTick {
		return errors.New("voice: inbound silence below tick resolution")
	}
	if c.MaxRecording > 0 && c.MaxRecording < c.OutboundTick {
		return errors.New("voice: max recording below tick resolution")
	}
	if c.SettleDelay < 0 {
		return errors.New("voice: settle delay must not be negative")
	}
	return nil
}

// WithConversation returns a copy with continuous mode set.
func (c Config) WithConversation(enabled bool) Config {
	c.Conversation = enabled
	return c
}

// WithSilence returns a copy with the outbound and inbound cutoffs set.
func (c Config) WithSilence(outbound, inbound time.Duration) Config {
	c.OutboundSilence = outbound
	c.InboundSilence = inbound
	return c
}

// WithBatchInterval returns a copy with the flush cadence set.
func (c Config) WithBatchInterval(d time.Duration) Config {
	c.BatchInterval = d
	return c
}

// WithMaxRecording returns a copy with the absolute capture cap set.
func (c Config) WithMaxRecording(d time.Duration) Config {
	c.MaxRecording = d
	return c
}

// WithSettleDelay returns a copy with the re-listen settle delay set.
func (c Config) WithSettleDelay(d time.Duration) Config {
	c.SettleDelay = d
	return c
}

// WithQuietThreshold returns a copy with the silence level gate set.
func (c Config) WithQuietThreshold(dbfs float64) Config {
	c.QuietThresholdDBFS = dbfs
	return c
}
