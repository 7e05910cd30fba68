package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Hmena01/travelbuddy/pkg/media"
)

func sleepFactory(d string) CommandFactory {
	return func(path string, format media.Format) (*exec.Cmd, error) {
		return exec.Command("sleep", d), nil
	}
}

func testClip() []byte {
	return media.WrapPCM(make([]byte, 3200), media.PlaybackSampleRate, 1, 16)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPlayer_PlayCompletes(t *testing.T) {
	p := NewPlayer(nil, WithCommandFactory(sleepFactory("0.05")))

	started := false
	ended := false
	p.OnPlaybackStart = func() { started = true }
	p.OnPlaybackEnd = func() { ended = true }

	if err := p.Play(context.Background(), testClip()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if !started || !ended {
		t.Errorf("Expected both callbacks, got start=%v end=%v", started, ended)
	}
	if p.IsPlaying() {
		t.Error("Player should be idle after Play returns")
	}

	stats := p.Stats()
	if stats.ClipsPlayed != 1 {
		t.Errorf("Expected 1 clip played, got %d", stats.ClipsPlayed)
	}
}

func TestPlayer_Cancel(t *testing.T) {
	p := NewPlayer(nil, WithCommandFactory(sleepFactory("5")))

	result := make(chan error, 1)
	go func() { result <- p.Play(context.Background(), testClip()) }()

	waitUntil(t, time.Second, p.IsPlaying)
	p.Cancel()

	select {
	case err := <-result:
		if !errors.Is(err, ErrPreempted) {
			t.Errorf("Expected ErrPreempted, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Cancel")
	}

	if got := p.Stats().Preemptions; got != 1 {
		t.Errorf("Expected 1 preemption, got %d", got)
	}
}

func TestPlayer_Timeout(t *testing.T) {
	p := NewPlayer(nil,
		WithCommandFactory(sleepFactory("5")),
		WithMaxClipDuration(100*time.Millisecond),
	)

	start := time.Now()
	err := p.Play(context.Background(), testClip())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got: %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}
	if got := p.Stats().Timeouts; got != 1 {
		t.Errorf("Expected 1 timeout, got %d", got)
	}
}

func TestPlayer_ContextCancel(t *testing.T) {
	p := NewPlayer(nil, WithCommandFactory(sleepFactory("5")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Play(ctx, testClip())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got: %v", err)
	}
}

func TestPlayer_NewClipPreemptsOld(t *testing.T) {
	p := NewPlayer(nil, WithCommandFactory(sleepFactory("5")))

	first := make(chan error, 1)
	go func() { first <- p.Play(context.Background(), testClip()) }()

	waitUntil(t, time.Second, p.IsPlaying)

	second := make(chan error, 1)
	go func() { second <- p.Play(context.Background(), testClip()) }()

	select {
	case err := <-first:
		if !errors.Is(err, ErrPreempted) {
			t.Errorf("Expected first clip preempted, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("First Play did not return after second started")
	}

	p.Cancel()
	if err := <-second; !errors.Is(err, ErrPreempted) {
		t.Errorf("Expected second clip preempted by Cancel, got: %v", err)
	}
}

func TestPlayer_WrapsBarePCM(t *testing.T) {
	var sawFormat media.Format
	var sawWAV bool

	factory := func(path string, format media.Format) (*exec.Cmd, error) {
		sawFormat = format
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		sawWAV = media.ValidateWAV(data)
		return exec.Command("sleep", "0.01"), nil
	}

	p := NewPlayer(nil, WithCommandFactory(factory))

	// Bare PCM16: no container signature.
	pcm := make([]byte, 3200)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	if err := p.Play(context.Background(), pcm); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if sawFormat != media.FormatWAV {
		t.Errorf("Expected clip handed over as WAV, got %s", sawFormat)
	}
	if !sawWAV {
		t.Error("Expected clip file to carry a WAV header")
	}
}

func TestPlayer_MP3ClipKeepsSuffix(t *testing.T) {
	var sawPath string
	factory := func(path string, format media.Format) (*exec.Cmd, error) {
		sawPath = path
		return exec.Command("sleep", "0.01"), nil
	}

	p := NewPlayer(nil, WithCommandFactory(factory))

	clip := append([]byte("ID3"), make([]byte, 200)...)
	if err := p.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if !strings.HasSuffix(sawPath, ".mp3") {
		t.Errorf("Expected .mp3 clip file, got %s", sawPath)
	}
}

func TestPlayer_FactoryError(t *testing.T) {
	p := NewPlayer(nil, WithCommandFactory(func(string, media.Format) (*exec.Cmd, error) {
		return nil, ErrNoPlayer
	}))

	err := p.Play(context.Background(), testClip())
	if !errors.Is(err, ErrNoPlayer) {
		t.Errorf("Expected ErrNoPlayer, got: %v", err)
	}
}
