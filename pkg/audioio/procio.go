package audioio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// procSource captures audio by streaming raw PCM16 from a platform capture
// tool's stdout (arecord on Linux, the sox rec tool on macOS). The tool is
// killed when the source stops or its context is cancelled.
type procSource struct {
	cfg     Config
	logger  *slog.Logger
	backend string
	argv    []string
	env     []string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan AudioChunk
	stopCh   chan struct{}

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newProcSource(cfg Config, logger *slog.Logger, backend string, argv, env []string) *procSource {
	return &procSource{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		argv:     argv,
		env:      env,
		streamCh: make(chan AudioChunk, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the capture tool and begins reading chunks.
func (s *procSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return classifyDeviceErr(stderr.String(), err)
	}

	s.cmd = cmd
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 10)

	go s.captureLoop(stdout, &stderr)

	s.logger.Info("audio capture started",
		"backend", s.backend,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)

	return nil
}

func (s *procSource) captureLoop(stdout io.Reader, stderr *bytes.Buffer) {
	defer close(s.streamCh)

	frame := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(stdout, frame); err != nil {
			s.mu.Lock()
			stopped := !s.running
			s.mu.Unlock()
			if !stopped {
				err = classifyDeviceErr(stderr.String(), err)
				s.logger.Error("audio capture ended unexpectedly",
					"backend", s.backend,
					"error", err,
				)
				s.Stop()
			}
			return
		}

		var chunk AudioChunk
		chunk.FromBytes(frame, s.cfg.SampleRate, s.cfg.Channels)
		chunk.Captured = time.Now()

		select {
		case <-s.stopCh:
			return
		case s.streamCh <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			// Consumer is behind, drop the chunk (overrun).
			s.overruns.Add(1)
		}
	}
}

// Stop kills the capture tool and halts the chunk stream.
func (s *procSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	s.logger.Info("audio capture stopped", "backend", s.backend)
	return nil
}

// Read reads the next audio chunk.
func (s *procSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *procSource) Stream() <-chan AudioChunk {
	return s.streamCh
}

// Config returns the audio configuration.
func (s *procSource) Config() Config {
	return s.cfg
}

// Name returns the backend name.
func (s *procSource) Name() string {
	return s.backend
}

// Close releases resources.
func (s *procSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	return nil
}

// Stats returns source statistics.
func (s *procSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     s.backend,
	}
}

var _ SourceWithStats = (*procSource)(nil)

// procSink plays audio by streaming raw PCM16 into a platform playback
// tool's stdin (aplay on Linux, the sox play tool on macOS). Clear kills
// the tool, dropping whatever it had buffered; the next Write respawns it.
type procSink struct {
	cfg     Config
	logger  *slog.Logger
	backend string
	argv    []string
	env     []string

	mu        sync.Mutex
	ctx       context.Context
	running   bool
	closed    bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	playUntil time.Time

	// Stats
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

func newProcSink(cfg Config, logger *slog.Logger, backend string, argv, env []string) *procSink {
	return &procSink{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		argv:    argv,
		env:     env,
	}
}

// Start spawns the playback tool.
func (s *procSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	s.ctx = ctx
	if err := s.spawnLocked(); err != nil {
		return err
	}
	s.running = true

	s.logger.Info("audio playback started",
		"backend", s.backend,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)

	return nil
}

func (s *procSink) spawnLocked() error {
	cmd := exec.CommandContext(s.ctx, s.argv[0], s.argv[1:]...)
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open playback pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return classifyDeviceErr(stderr.String(), err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.playUntil = time.Now()
	return nil
}

func (s *procSink) killLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
		s.cmd = nil
	}
}

// Stop kills the playback tool.
func (s *procSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.killLocked()

	s.logger.Info("audio playback stopped", "backend", s.backend)
	return nil
}

// Write streams a chunk to the playback tool.
func (s *procSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running {
		return fmt.Errorf("sink not running")
	}
	if s.stdin == nil {
		if err := s.spawnLocked(); err != nil {
			return err
		}
	}

	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		s.killLocked()
		return fmt.Errorf("write to %s playback: %w", s.backend, err)
	}

	now := time.Now()
	if s.playUntil.Before(now) {
		s.playUntil = now
	}
	s.playUntil = s.playUntil.Add(time.Duration(chunk.Duration() * float64(time.Second)))

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))

	return nil
}

// Flush waits until everything written so far should have finished playing.
func (s *procSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	wait := time.Until(s.playUntil)
	s.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// Clear kills the playback tool, dropping its buffered audio.
// The next Write starts a fresh one.
func (s *procSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.killLocked()
	s.playUntil = time.Now()

	s.logger.Debug("audio playback cleared", "backend", s.backend)
	return nil
}

// Config returns the audio configuration.
func (s *procSink) Config() Config {
	return s.cfg
}

// Name returns the backend name.
func (s *procSink) Name() string {
	return s.backend
}

// Close releases resources.
func (s *procSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	return nil
}

// Stats returns sink statistics.
func (s *procSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	remaining := time.Until(s.playUntil)
	s.mu.Unlock()

	buffered := int64(0)
	if remaining > 0 {
		buffered = int64(remaining.Seconds() * float64(s.cfg.SampleRate) * float64(s.cfg.Channels))
	}

	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         s.backend,
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*procSink)(nil)
