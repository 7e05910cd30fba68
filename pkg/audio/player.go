// Package audio plays complete response clips through the host's audio
// tools. Clips arrive as WAV or MP3 payloads (or bare PCM16, which gets a
// WAV header first), are written to a temporary file, and are handed to the
// platform player: afplay on macOS, aplay/mpg123 on Linux, ffplay as a
// fallback.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hmena01/travelbuddy/pkg/media"
)

// MinPlayableBytes is the smallest payload worth handing to a player.
// Anything shorter is a fragment of a header, not audible audio.
const MinPlayableBytes = 100

// DefaultMaxClipDuration caps how long a single clip may play before the
// player process is killed.
const DefaultMaxClipDuration = 15 * time.Second

var (
	// ErrPreempted is returned by Play when Cancel or a newer clip cut
	// this one off.
	ErrPreempted = errors.New("audio: playback preempted")

	// ErrTimeout is returned by Play when the clip exceeded the maximum
	// duration and the player was killed.
	ErrTimeout = errors.New("audio: playback timed out")

	// ErrNoPlayer indicates no usable playback tool was found on this host.
	ErrNoPlayer = errors.New("audio: no playback tool available")
)

// CommandFactory builds the player command for a clip file. Tests inject a
// factory that runs a short sleep instead of a real audio tool.
type CommandFactory func(path string, format media.Format) (*exec.Cmd, error)

// playSession tracks one Play invocation so preemption lands on the right
// process even when plays overlap.
type playSession struct {
	cmd       *exec.Cmd
	preempted bool
}

// Player plays one clip at a time. Starting a new clip or calling Cancel
// kills whatever is currently playing.
type Player struct {
	logger      *slog.Logger
	newCommand  CommandFactory
	maxDuration time.Duration

	// OnPlaybackStart fires when a clip starts playing.
	OnPlaybackStart func()
	// OnPlaybackEnd fires when a clip finishes, is preempted, or times out.
	OnPlaybackEnd func()

	mu  sync.Mutex
	cur *playSession

	clipsPlayed atomic.Int64
	preemptions atomic.Int64
	timeouts    atomic.Int64
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithMaxClipDuration overrides the hard cap on clip playback time.
func WithMaxClipDuration(d time.Duration) PlayerOption {
	return func(p *Player) {
		if d > 0 {
			p.maxDuration = d
		}
	}
}

// WithCommandFactory overrides how player commands are built.
func WithCommandFactory(f CommandFactory) PlayerOption {
	return func(p *Player) {
		if f != nil {
			p.newCommand = f
		}
	}
}

// NewPlayer creates a clip player.
func NewPlayer(logger *slog.Logger, opts ...PlayerOption) *Player {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Player{
		logger:      logger,
		newCommand:  systemPlayerCommand,
		maxDuration: DefaultMaxClipDuration,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Play plays a complete clip and blocks until it finishes, is preempted, is
// cancelled via ctx, or hits the duration cap. A clip already playing is
// preempted first. Bare PCM16 input is wrapped as 24kHz mono WAV.
func (p *Player) Play(ctx context.Context, clip []byte) error {
	format := media.DetectFormat(clip)
	if format == media.FormatPCM {
		p.logger.Debug("clip has no container header, wrapping as wav",
			"bytes", len(clip))
		clip = media.WrapPCM(clip, media.PlaybackSampleRate, 1, 16)
		format = media.FormatWAV
	}

	path, err := writeClipFile(clip, format)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	cmd, err := p.newCommand(path, format)
	if err != nil {
		return err
	}

	session := &playSession{cmd: cmd}

	p.mu.Lock()
	p.stopLocked()
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("start player: %w", err)
	}
	p.cur = session
	p.mu.Unlock()

	p.logger.Debug("playback started",
		"format", string(format),
		"bytes", len(clip),
	)
	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(p.maxDuration)
	defer timer.Stop()

	var result error
	select {
	case waitErr := <-done:
		p.mu.Lock()
		preempted := session.preempted
		p.mu.Unlock()
		switch {
		case preempted:
			p.preemptions.Add(1)
			result = ErrPreempted
		case waitErr != nil:
			result = fmt.Errorf("player exited: %w", waitErr)
		default:
			p.clipsPlayed.Add(1)
		}

	case <-ctx.Done():
		p.kill(session)
		<-done
		result = ctx.Err()

	case <-timer.C:
		p.kill(session)
		<-done
		p.timeouts.Add(1)
		result = ErrTimeout
	}

	p.mu.Lock()
	if p.cur == session {
		p.cur = nil
	}
	p.mu.Unlock()

	p.logger.Debug("playback finished", "result", errString(result))
	if p.OnPlaybackEnd != nil {
		p.OnPlaybackEnd()
	}

	return result
}

// Cancel kills the current clip immediately. The pending Play call returns
// ErrPreempted. Safe to call when nothing is playing.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// IsPlaying reports whether a clip is currently playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

// Stats returns playback counters.
func (p *Player) Stats() PlayerStats {
	p.mu.Lock()
	playing := p.cur != nil
	p.mu.Unlock()

	return PlayerStats{
		ClipsPlayed: p.clipsPlayed.Load(),
		Preemptions: p.preemptions.Load(),
		Timeouts:    p.timeouts.Load(),
		Playing:     playing,
	}
}

// PlayerStats contains playback counters.
type PlayerStats struct {
	ClipsPlayed int64 `json:"clips_played"`
	Preemptions int64 `json:"preemptions"`
	Timeouts    int64 `json:"timeouts"`
	Playing     bool  `json:"playing"`
}

// stopLocked marks the active session preempted and kills its player.
// Caller must hold p.mu.
func (p *Player) stopLocked() {
	if p.cur != nil {
		p.cur.preempted = true
		if p.cur.cmd.Process != nil {
			_ = p.cur.cmd.Process.Kill()
		}
	}
}

// kill terminates one session's player without marking preemption, for
// timeout and context-cancel paths.
func (p *Player) kill(session *playSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if session.cmd.Process != nil {
		_ = session.cmd.Process.Kill()
	}
}

func writeClipFile(clip []byte, format media.Format) (string, error) {
	suffix := ".wav"
	if format == media.FormatMP3 {
		suffix = ".mp3"
	}

	f, err := os.CreateTemp("", "clip-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create clip file: %w", err)
	}
	if _, err := f.Write(clip); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write clip file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close clip file: %w", err)
	}
	return f.Name(), nil
}

// systemPlayerCommand picks the platform audio tool for the clip format.
func systemPlayerCommand(path string, format media.Format) (*exec.Cmd, error) {
	type candidate struct {
		bin  string
		args []string
	}

	ffplay := candidate{"ffplay", []string{"-autoexit", "-nodisp", "-loglevel", "quiet", path}}

	var candidates []candidate
	switch runtime.GOOS {
	case "darwin":
		candidates = []candidate{{"afplay", []string{path}}, ffplay}
	case "linux":
		if format == media.FormatMP3 {
			candidates = []candidate{{"mpg123", []string{"-q", path}}, ffplay}
		} else {
			candidates = []candidate{{"aplay", []string{"-q", path}}, ffplay}
		}
	default:
		candidates = []candidate{ffplay}
	}

	for _, c := range candidates {
		if bin, err := exec.LookPath(c.bin); err == nil {
			return exec.Command(bin, c.args...), nil
		}
	}

	return nil, ErrNoPlayer
}

func errString(err error) string {
	if err == nil {
		return "completed"
	}
	return err.Error()
}
