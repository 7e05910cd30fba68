package voice

import (
	"testing"
	"time"
)

func TestModeString(t *testing.T) {
	cases := []struct {
		mode Mode
		want string
	}{
		{ModeIdle, "idle"},
		{ModeListening, "listening"},
		{ModeThinking, "thinking"},
		{ModeSpeaking, "speaking"},
		{ModePaused, "paused"},
		{ModeWaiting, "waiting"},
		{Mode(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.mode.String(); got != c.want {
			t.Errorf("Mode(%d).String() = %q, want %q", int(c.mode), got, c.want)
		}
	}
}

func TestModeTransitions(t *testing.T) {
	allowed := []struct{ from, to Mode }{
		{ModeIdle, ModeListening},
		{ModeIdle, ModeSpeaking},
		{ModeListening, ModeThinking},
		{ModeListening, ModeWaiting},
		{ModeListening, ModeSpeaking},
		{ModeListening, ModePaused},
		{ModeThinking, ModeSpeaking},
		{ModeThinking, ModeIdle},
		{ModeSpeaking, ModeIdle},
		{ModeSpeaking, ModeWaiting},
		{ModeWaiting, ModeListening},
		{ModeWaiting, ModePaused},
		{ModePaused, ModeWaiting},
		{ModePaused, ModeIdle},
	}
	for _, c := range allowed {
		if !canTransition(c.from, c.to) {
			t.Errorf("transition %v -> %v refused, want allowed", c.from, c.to)
		}
	}

	refused := []struct{ from, to Mode }{
		{ModeIdle, ModeThinking},
		{ModeIdle, ModeWaiting},
		{ModeIdle, ModePaused},
		{ModeThinking, ModeListening},
		{ModeSpeaking, ModeListening},
		{ModePaused, ModeListening},
		{ModePaused, ModeThinking},
	}
	for _, c := range refused {
		if canTransition(c.from, c.to) {
			t.Errorf("transition %v -> %v allowed, want refused", c.from, c.to)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch interval", func(c *Config) { c.BatchInterval = 0 }},
		{"zero outbound tick", func(c *Config) { c.OutboundTick = 0 }},
		{"zero inbound tick", func(c *Config) { c.InboundTick = 0 }},
		{"silence below tick", func(c *Config) { c.OutboundSilence = c.OutboundTick / 2 }},
		{"inbound silence below tick", func(c *Config) { c.InboundSilence = c.InboundTick / 2 }},
		{"cap below tick", func(c *Config) { c.MaxRecording = c.OutboundTick / 2 }},
		{"negative settle", func(c *Config) { c.SettleDelay = -time.Second }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestConfigWithers(t *testing.T) {
	base := DefaultConfig()
	got := base.
		WithConversation(true).
		WithSilence(5*time.Second, 2*time.Second).
		WithBatchInterval(50 * time.Millisecond).
		WithMaxRecording(30 * time.Second).
		WithSettleDelay(time.Second).
		WithQuietThreshold(-50)

	if !got.Conversation {
		t.Error("conversation not set")
	}
	if got.OutboundSilence != 5*time.Second || got.InboundSilence != 2*time.Second {
		t.Errorf("silence = %v/%v", got.OutboundSilence, got.InboundSilence)
	}
	if got.BatchInterval != 50*time.Millisecond {
		t.Errorf("batch interval = %v", got.BatchInterval)
	}
	if got.MaxRecording != 30*time.Second {
		t.Errorf("max recording = %v", got.MaxRecording)
	}
	if got.SettleDelay != time.Second {
		t.Errorf("settle delay = %v", got.SettleDelay)
	}
	if got.QuietThresholdDBFS != -50 {
		t.Errorf("quiet threshold = %v", got.QuietThresholdDBFS)
	}

	// Value semantics: the base is untouched.
	if base.Conversation || base.OutboundSilence != 3*time.Second {
		t.Error("withers mutated the base config")
	}
}
