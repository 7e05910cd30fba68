package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hmena01/travelbuddy/pkg/wire"
)

// Client is the WebSocket gateway client.
type Client struct {
	config *Config
	logger *slog.Logger

	connMu sync.RWMutex
	sess   *session
	closed bool

	stateMu sync.RWMutex
	state   ConnectionState

	callbackMu      sync.RWMutex
	onText          func(string)
	onTranscription func(Transcription)
	onAudioStart    func()
	onAudio         func([]byte)
	onTurnComplete  func()
	onServerError   func(string)
	onDisconnect    func(error)
	onStateChange   func(ConnectionState)

	metricsMu sync.Mutex
	metrics   Metrics
}

// session bundles the resources of one established connection. A new session
// is created per successful dial; failed sessions are discarded whole.
type session struct {
	conn    *websocket.Conn
	sendCh  chan []byte
	failure chan error // first transport error wins
	done    chan struct{}
	once    sync.Once
}

func newSession(conn *websocket.Conn, buffer int) *session {
	return &session{
		conn:    conn,
		sendCh:  make(chan []byte, buffer),
		failure: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *session) fail(err error) {
	select {
	case s.failure <- err:
	default:
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// NewClient creates a gateway client with the given options.
func NewClient(opts ...Option) (*Client, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: config,
		logger: logger.With("component", "conversation"),
		state:  StateDisconnected,
	}, nil
}

// Connect dials the gateway, retrying up to ConnectAttempts times with a
// fixed backoff. An attempt only counts as successful once the connection
// survives the probe window with the setup and ping frames sent. On
// exhaustion the client enters StateDegraded and the last error is
// returned; the caller may keep the session running and call Connect
// again later.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.RLock()
	closed := c.closed
	c.connMu.RUnlock()
	if closed {
		return ErrConnectionClosed
	}

	c.stateMu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.stateMu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.stateMu.Unlock()
	c.emitStateChange(StateConnecting)

	var lastErr error
	for attempt := 1; attempt <= c.config.ConnectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.config.ConnectBackoff):
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			}
		}

		c.connMu.RLock()
		closed := c.closed
		c.connMu.RUnlock()
		if closed {
			c.setState(StateDisconnected)
			return ErrConnectionClosed
		}

		lastErr = c.dialOnce(ctx)
		if lastErr == nil {
			c.logger.Info("connected to gateway",
				"url", c.config.URL(),
				"attempt", attempt)
			return nil
		}
		c.logger.Warn("connect attempt failed",
			"attempt", attempt,
			"of", c.config.ConnectAttempts,
			"error", lastErr)

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
	}

	c.setState(StateDegraded)
	c.bumpErrors()
	c.logger.Error("gateway unreachable, continuing degraded",
		"attempts", c.config.ConnectAttempts)
	return lastErr
}

// dialOnce performs a single connection attempt: dial, queue the setup
// frame and a probe ping, then hold the probe window open. Both frames
// enter the send queue before the session is published, so no audio can
// precede the setup.
func (c *Client) dialOnce(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.DialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.config.URL(), nil)
	if err != nil {
		retryable := true
		if resp != nil {
			retryable = resp.StatusCode >= 500
		}
		return NewConnectionError("dial failed", err, retryable)
	}

	if c.config.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		})
	}

	s := newSession(conn, c.config.SendBuffer)
	go c.readLoop(s)
	go c.writeLoop(s)

	setup, err := wire.Marshal(wire.NewSetup(c.config.Language))
	if err != nil {
		s.close()
		return err
	}
	probe, err := wire.Marshal(wire.NewPing())
	if err != nil {
		s.close()
		return err
	}
	s.sendCh <- setup
	s.sendCh <- probe

	window := time.NewTimer(c.config.ProbeTimeout)
	defer window.Stop()
	select {
	case err := <-s.failure:
		s.close()
		return err
	case <-ctx.Done():
		s.close()
		return ctx.Err()
	case <-window.C:
	}

	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		s.close()
		return ErrConnectionClosed
	}
	prior := c.sess
	c.sess = s
	c.connMu.Unlock()
	if prior != nil {
		// Exactly one live handle: replacing tears the old one down.
		// Its supervisor sees it is no longer current and stays quiet.
		prior.close()
	}

	c.metricsMu.Lock()
	c.metrics.ConnectionTime = time.Now()
	c.metricsMu.Unlock()

	c.setState(StateConnected)
	go c.keepAlive(s)
	go c.supervise(s)
	return nil
}

// readLoop reads inbound frames until the connection fails or the session
// is closed.
func (c *Client) readLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if c.config.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.fail(ErrConnectionClosed)
			} else {
				s.fail(NewConnectionError("read failed", err, true))
			}
			return
		}

		c.metricsMu.Lock()
		c.metrics.MessagesReceived++
		c.metricsMu.Unlock()

		c.dispatch(data)
	}
}

// writeLoop is the single writer for the connection. All outbound frames
// pass through the session queue.
func (c *Client) writeLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.sendCh:
			if c.config.WriteTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.fail(NewConnectionError("write failed", err, true))
				return
			}
			c.metricsMu.Lock()
			c.metrics.MessagesSent++
			c.metricsMu.Unlock()
		}
	}
}

// keepAlive sends periodic ping frames so idle connections stay open. The
// protocol ping is data for the gateway; the control ping solicits a pong
// that pushes the read deadline forward on otherwise silent sessions.
func (c *Client) keepAlive(s *session) {
	if c.config.PingInterval <= 0 {
		return
	}
	wait := c.config.WriteTimeout
	if wait <= 0 {
		wait = 10 * time.Second
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait)); err != nil {
				s.fail(NewConnectionError("ping failed", err, true))
				return
			}
			frame, err := wire.Marshal(wire.NewPing())
			if err != nil {
				return
			}
			select {
			case s.sendCh <- frame:
			default:
				// queue is backed up, skip this ping
			}
		}
	}
}

// supervise waits for the session's first transport error and tears the
// connection down. There is no automatic mid-session reconnect; the owner
// decides when to call Connect again.
func (c *Client) supervise(s *session) {
	err := <-s.failure
	s.close()

	c.connMu.Lock()
	if c.closed || c.sess != s {
		c.connMu.Unlock()
		return
	}
	c.sess = nil
	c.connMu.Unlock()

	c.bumpErrors()
	c.setState(StateDisconnected)
	c.logger.Warn("connection lost", "error", err)
	c.emitDisconnect(err)
}

// dispatch decodes one inbound frame and routes it to callbacks. Malformed
// frames are logged and dropped; the connection stays up.
func (c *Client) dispatch(data []byte) {
	ev, err := wire.ParseServerEvent(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		c.bumpErrors()
		return
	}

	switch ev.Kind() {
	case wire.EventError:
		msg := ev.ErrorMessage()
		c.logger.Warn("gateway reported error", "message", msg)
		c.bumpErrors()
		c.emitServerError(msg)

	case wire.EventTurnComplete:
		c.metricsMu.Lock()
		c.metrics.TurnsCompleted++
		c.metricsMu.Unlock()
		c.emitTurnComplete()

	case wire.EventAudioStart:
		c.emitAudioStart()

	case wire.EventAudio:
		audio, err := ev.DecodeAudio()
		if err != nil {
			c.logger.Warn("dropping undecodable audio fragment", "error", err)
			c.bumpErrors()
			return
		}
		c.metricsMu.Lock()
		c.metrics.AudioBytesReceived += int64(len(audio))
		c.metricsMu.Unlock()
		c.emitAudio(audio)

	case wire.EventTranscription:
		if ev.Transcription.Suppressed() {
			c.logger.Debug("suppressed transcription",
				"status", ev.Transcription.Status)
			return
		}
		c.emitTranscription(Transcription{
			Text:   ev.Transcription.Text,
			Source: ev.Transcription.Source,
		})

	case wire.EventText:
		c.emitText(*ev.Text)

	default:
		c.logger.Debug("ignoring unrecognized frame")
	}
}

// send queues one outbound message. Frames are dropped, not queued, when
// the client is degraded or the queue is full.
func (c *Client) send(v any) error {
	switch c.State() {
	case StateConnected:
	case StateDegraded:
		return ErrDegraded
	default:
		return ErrNotConnected
	}

	c.connMu.RLock()
	s := c.sess
	c.connMu.RUnlock()
	if s == nil {
		return ErrNotConnected
	}

	frame, err := wire.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case s.sendCh <- frame:
		return nil
	default:
		return fmt.Errorf("%w: queue full", ErrSendFailed)
	}
}

// SendAudio streams one batch of PCM16 microphone audio upstream.
func (c *Client) SendAudio(audio []byte) error {
	if err := c.send(wire.NewAudioChunk(audio)); err != nil {
		return err
	}
	c.metricsMu.Lock()
	c.metrics.AudioBytesSent += int64(len(audio))
	c.metricsMu.Unlock()
	return nil
}

// SendImage streams one JPEG still frame upstream.
func (c *Client) SendImage(jpeg []byte) error {
	return c.send(wire.NewImageChunk(jpeg))
}

// SendEndOfStream tells the gateway the user stopped speaking.
func (c *Client) SendEndOfStream() error {
	return c.send(wire.NewEndOfStream())
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Metrics returns a snapshot of connection statistics.
func (c *Client) Metrics() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

// Close shuts down the connection and releases resources. It is safe to
// call multiple times.
func (c *Client) Close() error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return nil
	}
	c.closed = true
	s := c.sess
	c.sess = nil
	c.connMu.Unlock()

	if s != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.close()
	}

	c.setState(StateDisconnected)
	c.logger.Info("gateway client closed")
	return nil
}

func (c *Client) setState(state ConnectionState) {
	c.stateMu.Lock()
	old := c.state
	c.state = state
	c.stateMu.Unlock()
	if old != state {
		c.emitStateChange(state)
	}
}

func (c *Client) bumpErrors() {
	c.metricsMu.Lock()
	c.metrics.Errors++
	c.metricsMu.Unlock()
}

// OnText sets the callback for plain text responses.
func (c *Client) OnText(fn func(text string)) {
	c.callbackMu.Lock()
	c.onText = fn
	c.callbackMu.Unlock()
}

// OnTranscription sets the callback for transcription events.
func (c *Client) OnTranscription(fn func(t Transcription)) {
	c.callbackMu.Lock()
	c.onTranscription = fn
	c.callbackMu.Unlock()
}

// OnAudioStart sets the callback for the start of a response's audio.
func (c *Client) OnAudioStart(fn func()) {
	c.callbackMu.Lock()
	c.onAudioStart = fn
	c.callbackMu.Unlock()
}

// OnAudio sets the callback for audio fragments.
func (c *Client) OnAudio(fn func(audio []byte)) {
	c.callbackMu.Lock()
	c.onAudio = fn
	c.callbackMu.Unlock()
}

// OnTurnComplete sets the callback for turn boundaries.
func (c *Client) OnTurnComplete(fn func()) {
	c.callbackMu.Lock()
	c.onTurnComplete = fn
	c.callbackMu.Unlock()
}

// OnServerError sets the callback for gateway error events.
func (c *Client) OnServerError(fn func(msg string)) {
	c.callbackMu.Lock()
	c.onServerError = fn
	c.callbackMu.Unlock()
}

// OnDisconnect sets the callback for dropped connections.
func (c *Client) OnDisconnect(fn func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = fn
	c.callbackMu.Unlock()
}

// OnStateChange sets the callback for connection state transitions.
func (c *Client) OnStateChange(fn func(state ConnectionState)) {
	c.callbackMu.Lock()
	c.onStateChange = fn
	c.callbackMu.Unlock()
}

func (c *Client) emitText(text string) {
	c.callbackMu.RLock()
	fn := c.onText
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(text)
	}
}

func (c *Client) emitTranscription(t Transcription) {
	c.callbackMu.RLock()
	fn := c.onTranscription
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(t)
	}
}

func (c *Client) emitAudioStart() {
	c.callbackMu.RLock()
	fn := c.onAudioStart
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) emitAudio(audio []byte) {
	c.callbackMu.RLock()
	fn := c.onAudio
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(audio)
	}
}

func (c *Client) emitTurnComplete() {
	c.callbackMu.RLock()
	fn := c.onTurnComplete
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) emitServerError(msg string) {
	c.callbackMu.RLock()
	fn := c.onServerError
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *Client) emitDisconnect(err error) {
	c.callbackMu.RLock()
	fn := c.onDisconnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) emitStateChange(state ConnectionState) {
	c.callbackMu.RLock()
	fn := c.onStateChange
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(state)
	}
}

// Verify interface compliance at compile time.
var _ Gateway = (*Client)(nil)
