package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Hmena01/travelbuddy/pkg/audio"
	"github.com/Hmena01/travelbuddy/pkg/audioio"
	"github.com/Hmena01/travelbuddy/pkg/conversation"
)

// ClipPlayer plays one complete reply clip at a time. *audio.Player is the
// standard implementation; tests substitute fakes.
type ClipPlayer interface {
	// Play blocks until the clip finishes, is preempted, or ctx ends.
	Play(ctx context.Context, clip []byte) error

	// Cancel preempts the current clip, if any.
	Cancel()

	// IsPlaying reports whether a clip is active.
	IsPlaying() bool
}

var _ ClipPlayer = (*audio.Player)(nil)

// FrameGrabber supplies encoded camera stills for visual context.
type FrameGrabber interface {
	// Grab returns one JPEG-encoded frame.
	Grab(ctx context.Context) ([]byte, error)
}

// SourceFactory opens a fresh capture source. The engine opens one source
// per listening session and closes it when capture stops.
type SourceFactory func() (audioio.Source, error)

// Capabilities reports which optional devices the engine was built with.
type Capabilities struct {
	AudioIn  bool `json:"audio_in"`
	AudioOut bool `json:"audio_out"`
	Camera   bool `json:"camera"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for engine events.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSource provides microphone capture.
func WithSource(factory SourceFactory) Option {
	return func(e *Engine) {
		e.newSource = factory
	}
}

// WithPlayer provides reply playback.
func WithPlayer(p ClipPlayer) Option {
	return func(e *Engine) {
		e.player = p
	}
}

// WithFrames provides camera stills for SendFrame.
func WithFrames(g FrameGrabber) Option {
	return func(e *Engine) {
		e.frames = g
	}
}

// Engine coordinates one live conversation session: it runs the capture
// pipeline, streams audio to the gateway, reassembles reply turns, plays
// them back, and drives the session mode through each turn.
//
// All session logic runs on a single event goroutine. Device goroutines,
// tickers, transport callbacks, and playback completions marshal their
// work into it through a buffered channel, so handlers never race each
// other. Public methods are safe to call from any goroutine.
type Engine struct {
	config  Config
	logger  *slog.Logger
	gateway conversation.Gateway

	newSource SourceFactory
	player    ClipPlayer
	frames    FrameGrabber
	caps      Capabilities

	events chan func()
	quit   chan struct{}

	lifecycleMu sync.Mutex
	started     atomic.Bool
	closed      atomic.Bool
	group       *errgroup.Group
	runCtx      context.Context
	runCancel   context.CancelFunc

	stateMu sync.RWMutex
	state   State

	// Turn state below is touched only by event handlers.
	capture      *captureSession
	turn         bytes.Buffer
	turnActive   bool
	playPending  bool
	playGen      uint64
	inboundWatch *silenceWatcher
	settleTimer  *time.Timer

	metrics *MetricsCollector

	callbackMu   sync.RWMutex
	onTranscript func(text, source string)
	onResponse   func(text string)
	onModeChange func(Mode)
	onStatus     func(status string)
	onLevel      func(audioio.Level)
}

// New creates an engine bound to a gateway. Devices are optional: without
// WithSource the engine cannot listen, without WithPlayer replies are
// received but not played, without WithFrames SendFrame fails.
func New(cfg Config, gateway conversation.Gateway, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, errors.New("voice: gateway is required")
	}

	e := &Engine{
		config:  cfg,
		logger:  slog.Default(),
		gateway: gateway,
		events:  make(chan func(), 128),
		quit:    make(chan struct{}),
		metrics: NewMetricsCollector(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "voice")

	e.caps = Capabilities{
		AudioIn:  e.newSource != nil,
		AudioOut: e.player != nil,
		Camera:   e.frames != nil,
	}

	e.state = State{
		Mode:         ModeIdle,
		ConnState:    gateway.State(),
		Conversation: cfg.Conversation,
	}
	e.state.Connected = e.state.ConnState == conversation.StateConnected

	e.inboundWatch = newSilenceWatcher(cfg.InboundTick, cfg.InboundSilence, 0, func(string) {
		e.post(func() { e.finishTurn("inbound silence") })
	})

	e.wireGateway()
	return e, nil
}

// Start launches the event loop and dials the gateway. A failed dial is
// not fatal: the engine continues in offline mode and Connect can be
// retried later.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	if e.closed.Load() {
		e.lifecycleMu.Unlock()
		return ErrEngineClosed
	}
	if !e.started.CompareAndSwap(false, true) {
		e.lifecycleMu.Unlock()
		return ErrAlreadyStarted
	}
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.group, e.runCtx = errgroup.WithContext(e.runCtx)
	e.group.Go(func() error {
		e.run()
		return nil
	})
	e.lifecycleMu.Unlock()

	e.logger.Info("engine started",
		"audio_in", e.caps.AudioIn,
		"audio_out", e.caps.AudioOut,
		"camera", e.caps.Camera,
		"conversation", e.config.Conversation,
	)
	return e.Connect(ctx)
}

// Connect dials the gateway. Exhausted retries leave the transport
// degraded and are not returned as an error: the session keeps running
// offline and the caller may try again.
func (e *Engine) Connect(ctx context.Context) error {
	err := e.gateway.Connect(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, conversation.ErrAlreadyConnected):
		return nil
	case errors.Is(err, conversation.ErrConnectionClosed):
		return err
	case ctx.Err() != nil:
		return err
	default:
		e.logger.Warn("transport unavailable, continuing offline", "error", err)
		e.emitStatus("offline: gateway unreachable")
		return nil
	}
}

// Close stops the event loop, tears down capture and playback, and closes
// the gateway handle. Idempotent.
func (e *Engine) Close() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	if e.runCancel != nil {
		e.runCancel()
	}
	close(e.quit)
	if e.group != nil {
		_ = e.group.Wait()
	}

	// The loop has stopped; turn state is safe to touch directly.
	e.stopSettle()
	e.inboundWatch.Stop()
	if e.capture != nil {
		e.teardownCapture(false)
	}
	if e.player != nil {
		e.player.Cancel()
	}
	err := e.gateway.Close()

	e.forceMode(ModeIdle)
	e.logger.Info("engine closed")
	return err
}

// run is the event loop. Every handler that touches turn state executes
// here.
func (e *Engine) run() {
	for {
		select {
		case <-e.quit:
			return
		case fn := <-e.events:
			fn()
		}
	}
}

// post marshals fn onto the event loop. It returns false once the engine
// is closed. Handlers already running on the loop must call their peers
// directly instead of posting.
func (e *Engine) post(fn func()) bool {
	if e.closed.Load() {
		return false
	}
	select {
	case e.events <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// wireGateway subscribes to transport callbacks. They arrive on the
// gateway's read goroutine and are bounced onto the event loop.
func (e *Engine) wireGateway() {
	e.gateway.OnStateChange(func(st conversation.ConnectionState) {
		e.post(func() { e.connStateChanged(st) })
	})
	e.gateway.OnDisconnect(func(err error) {
		e.post(func() { e.connectionLost(err) })
	})
	e.gateway.OnText(func(text string) {
		e.post(func() {
			e.markReply()
			e.emitResponse(text)
		})
	})
	e.gateway.OnTranscription(func(t conversation.Transcription) {
		e.post(func() {
			e.markReply()
			e.emitTranscript(t.Text, t.Source)
		})
	})
	e.gateway.OnAudioStart(func() {
		e.post(e.beginTurn)
	})
	e.gateway.OnAudio(func(chunk []byte) {
		e.post(func() { e.appendTurn(chunk) })
	})
	e.gateway.OnTurnComplete(func() {
		e.post(func() { e.finishTurn("turn complete") })
	})
	e.gateway.OnServerError(func(msg string) {
		e.post(func() {
			e.logger.Warn("gateway reported error", "message", msg)
			e.emitStatus("gateway error: " + msg)
		})
	})
}

// connStateChanged tracks the transport state in the session snapshot.
func (e *Engine) connStateChanged(st conversation.ConnectionState) {
	e.stateMu.Lock()
	e.state.ConnState = st
	e.state.Connected = st == conversation.StateConnected
	mode := e.state.Mode
	conversing := e.state.Conversation && !e.state.Paused
	e.stateMu.Unlock()

	switch st {
	case conversation.StateConnected:
		e.emitStatus("connected")
		// A re-listen may have been skipped while offline.
		if mode == ModeWaiting && conversing {
			e.scheduleListen()
		}
	case conversation.StateDegraded:
		e.emitStatus("offline: gateway unreachable")
	}
}

// SetConversationMode turns continuous turn-taking on or off.
func (e *Engine) SetConversationMode(enabled bool) {
	e.post(func() { e.applyConversationMode(enabled) })
}

// ToggleConversationMode flips continuous mode and returns the new value.
func (e *Engine) ToggleConversationMode() bool {
	target := !e.Snapshot().Conversation
	e.SetConversationMode(target)
	return target
}

// SetPaused pauses or resumes the conversation loop.
func (e *Engine) SetPaused(paused bool) {
	e.post(func() { e.applyPaused(paused) })
}

// TogglePause flips the paused flag and returns the new value.
func (e *Engine) TogglePause() bool {
	target := !e.Snapshot().Paused
	e.SetPaused(target)
	return target
}

// SendFrame grabs one camera frame and ships it to the gateway as a JPEG
// chunk alongside the audio stream.
func (e *Engine) SendFrame(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.frames == nil {
		return ErrNoCamera
	}

	frame, err := e.frames.Grab(ctx)
	if err != nil {
		return fmt.Errorf("voice: grab frame: %w", err)
	}
	if err := e.gateway.SendImage(frame); err != nil {
		return fmt.Errorf("voice: send frame: %w", err)
	}
	e.logger.Debug("frame sent", "bytes", len(frame))
	return nil
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Capabilities reports which devices the engine was built with.
func (e *Engine) Capabilities() Capabilities {
	return e.caps
}

// Metrics returns the per-turn metrics collector.
func (e *Engine) Metrics() *MetricsCollector {
	return e.metrics
}

// Gateway returns the transport the engine is bound to.
func (e *Engine) Gateway() conversation.Gateway {
	return e.gateway
}

// Callback setters. Callbacks run on the engine's event goroutine and must
// return promptly; blocking engine operations (StartListening, Toggle*)
// must not be called from inside them.

// OnTranscript registers a callback for recognized user speech.
func (e *Engine) OnTranscript(fn func(text, source string)) {
	e.callbackMu.Lock()
	e.onTranscript = fn
	e.callbackMu.Unlock()
}

// OnResponse registers a callback for reply text from the model.
func (e *Engine) OnResponse(fn func(text string)) {
	e.callbackMu.Lock()
	e.onResponse = fn
	e.callbackMu.Unlock()
}

// OnModeChange registers a callback for session mode changes.
func (e *Engine) OnModeChange(fn func(Mode)) {
	e.callbackMu.Lock()
	e.onModeChange = fn
	e.callbackMu.Unlock()
}

// OnStatus registers a callback for human-readable status lines.
func (e *Engine) OnStatus(fn func(status string)) {
	e.callbackMu.Lock()
	e.onStatus = fn
	e.callbackMu.Unlock()
}

// OnLevel registers a callback for smoothed microphone levels.
func (e *Engine) OnLevel(fn func(audioio.Level)) {
	e.callbackMu.Lock()
	e.onLevel = fn
	e.callbackMu.Unlock()
}

func (e *Engine) emitTranscript(text, source string) {
	if e.closed.Load() {
		return
	}
	e.callbackMu.RLock()
	fn := e.onTranscript
	e.callbackMu.RUnlock()
	if fn != nil {
		fn(text, source)
	}
}

func (e *Engine) emitResponse(text string) {
	if e.closed.Load() {
		return
	}
	e.callbackMu.RLock()
	fn := e.onResponse
	e.callbackMu.RUnlock()
	if fn != nil {
		fn(text)
	}
}

func (e *Engine) emitModeChange(m Mode) {
	if e.closed.Load() {
		return
	}
	e.callbackMu.RLock()
	fn := e.onModeChange
	e.callbackMu.RUnlock()
	if fn != nil {
		fn(m)
	}
}

func (e *Engine) emitStatus(status string) {
	if e.closed.Load() {
		return
	}
	e.callbackMu.RLock()
	fn := e.onStatus
	e.callbackMu.RUnlock()
	if fn != nil {
		fn(status)
	}
}

func (e *Engine) emitLevel(level audioio.Level) {
	if e.closed.Load() {
		return
	}
	e.callbackMu.RLock()
	fn := e.onLevel
	e.callbackMu.RUnlock()
	if fn != nil {
		fn(level)
	}
}

// setMode updates the snapshot and notifies on actual changes.
func (e *Engine) setMode(m Mode) {
	e.stateMu.Lock()
	changed := e.state.Mode != m
	e.state.Mode = m
	e.stateMu.Unlock()
	if changed {
		e.emitModeChange(m)
	}
}

// transition moves to the target mode if the table allows it. Same-mode
// transitions are quiet no-ops; invalid ones are logged and refused.
func (e *Engine) transition(to Mode) bool {
	from := e.mode()
	if from == to {
		return true
	}
	if !canTransition(from, to) {
		e.logger.Warn("invalid mode transition", "from", from, "to", to)
		return false
	}
	e.logger.Debug("mode change", "from", from, "to", to)
	e.setMode(to)
	return true
}

// forceMode sets the mode unconditionally, for teardown paths where the
// table does not apply.
func (e *Engine) forceMode(m Mode) {
	e.setMode(m)
}

func (e *Engine) mode() Mode {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Mode
}

func (e *Engine) touchInbound() {
	e.stateMu.Lock()
	e.state.LastInbound = time.Now()
	e.stateMu.Unlock()
}

func (e *Engine) touchCapture() {
	e.stateMu.Lock()
	e.state.LastCapture = time.Now()
	e.stateMu.Unlock()
}

// markReply records the first sign of the server responding to the
// current turn.
func (e *Engine) markReply() {
	e.metrics.MarkFirstReply()
	e.touchInbound()
}
