package conversation

import (
	"context"
	"sync"
)

// Mock is a mock implementation of Gateway for testing.
type Mock struct {
	mu sync.RWMutex

	// State
	state ConnectionState

	// Callbacks
	onText          func(text string)
	onTranscription func(t Transcription)
	onAudioStart    func()
	onAudio         func(audio []byte)
	onTurnComplete  func()
	onServerError   func(msg string)
	onDisconnect    func(err error)
	onStateChange   func(state ConnectionState)

	// Configurable behavior
	ConnectFunc         func(ctx context.Context) error
	CloseFunc           func() error
	SendAudioFunc       func(audio []byte) error
	SendImageFunc       func(jpeg []byte) error
	SendEndOfStreamFunc func() error

	// Captured calls for assertions
	AudioSent        [][]byte
	ImagesSent       [][]byte
	EndOfStreamCount int
	CloseCalled      bool
}

// NewMock creates a new Mock gateway.
func NewMock() *Mock {
	return &Mock{}
}

// Connect implements Gateway.
func (m *Mock) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	m.setState(StateConnected)
	return nil
}

// Close implements Gateway.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.CloseCalled = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	m.setState(StateDisconnected)
	return nil
}

// State implements Gateway.
func (m *Mock) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected implements Gateway.
func (m *Mock) IsConnected() bool {
	return m.State() == StateConnected
}

// SendAudio implements Gateway.
func (m *Mock) SendAudio(audio []byte) error {
	if m.SendAudioFunc != nil {
		return m.SendAudioFunc(audio)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return ErrNotConnected
	}
	buf := make([]byte, len(audio))
	copy(buf, audio)
	m.AudioSent = append(m.AudioSent, buf)
	return nil
}

// SendImage implements Gateway.
func (m *Mock) SendImage(jpeg []byte) error {
	if m.SendImageFunc != nil {
		return m.SendImageFunc(jpeg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return ErrNotConnected
	}
	buf := make([]byte, len(jpeg))
	copy(buf, jpeg)
	m.ImagesSent = append(m.ImagesSent, buf)
	return nil
}

// SendEndOfStream implements Gateway.
func (m *Mock) SendEndOfStream() error {
	if m.SendEndOfStreamFunc != nil {
		return m.SendEndOfStreamFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return ErrNotConnected
	}
	m.EndOfStreamCount++
	return nil
}

// OnText implements Gateway.
func (m *Mock) OnText(fn func(text string)) {
	m.mu.Lock()
	m.onText = fn
	m.mu.Unlock()
}

// OnTranscription implements Gateway.
func (m *Mock) OnTranscription(fn func(t Transcription)) {
	m.mu.Lock()
	m.onTranscription = fn
	m.mu.Unlock()
}

// OnAudioStart implements Gateway.
func (m *Mock) OnAudioStart(fn func()) {
	m.mu.Lock()
	m.onAudioStart = fn
	m.mu.Unlock()
}

// OnAudio implements Gateway.
func (m *Mock) OnAudio(fn func(audio []byte)) {
	m.mu.Lock()
	m.onAudio = fn
	m.mu.Unlock()
}

// OnTurnComplete implements Gateway.
func (m *Mock) OnTurnComplete(fn func()) {
	m.mu.Lock()
	m.onTurnComplete = fn
	m.mu.Unlock()
}

// OnServerError implements Gateway.
func (m *Mock) OnServerError(fn func(msg string)) {
	m.mu.Lock()
	m.onServerError = fn
	m.mu.Unlock()
}

// OnDisconnect implements Gateway.
func (m *Mock) OnDisconnect(fn func(err error)) {
	m.mu.Lock()
	m.onDisconnect = fn
	m.mu.Unlock()
}

// OnStateChange implements Gateway.
func (m *Mock) OnStateChange(fn func(state ConnectionState)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

// Metrics implements Gateway.
func (m *Mock) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		AudioBytesSent: int64(len(m.AudioSent)),
	}
}

// SentAudio returns a copy of the captured audio sends.
func (m *Mock) SentAudio() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.AudioSent))
	copy(out, m.AudioSent)
	return out
}

// SentImages returns a copy of the captured image sends.
func (m *Mock) SentImages() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.ImagesSent))
	copy(out, m.ImagesSent)
	return out
}

// EndOfStreams returns how many end-of-stream markers were sent.
func (m *Mock) EndOfStreams() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.EndOfStreamCount
}

// SimulateText delivers a text response to the registered callback.
func (m *Mock) SimulateText(text string) {
	m.mu.RLock()
	fn := m.onText
	m.mu.RUnlock()
	if fn != nil {
		fn(text)
	}
}

// SimulateTranscription delivers a transcription to the registered callback.
func (m *Mock) SimulateTranscription(t Transcription) {
	m.mu.RLock()
	fn := m.onTranscription
	m.mu.RUnlock()
	if fn != nil {
		fn(t)
	}
}

// SimulateAudioStart delivers an audio start marker.
func (m *Mock) SimulateAudioStart() {
	m.mu.RLock()
	fn := m.onAudioStart
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// SimulateAudio delivers an audio fragment to the registered callback.
func (m *Mock) SimulateAudio(audio []byte) {
	m.mu.RLock()
	fn := m.onAudio
	m.mu.RUnlock()
	if fn != nil {
		fn(audio)
	}
}

// SimulateTurnComplete delivers a turn boundary.
func (m *Mock) SimulateTurnComplete() {
	m.mu.RLock()
	fn := m.onTurnComplete
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// SimulateServerError delivers a gateway error event.
func (m *Mock) SimulateServerError(msg string) {
	m.mu.RLock()
	fn := m.onServerError
	m.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// SimulateDisconnect moves the mock to disconnected and fires the callback.
func (m *Mock) SimulateDisconnect(err error) {
	m.setState(StateDisconnected)
	m.mu.RLock()
	fn := m.onDisconnect
	m.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// SetState forces the mock into a connection state.
func (m *Mock) SetState(state ConnectionState) {
	m.setState(state)
}

func (m *Mock) setState(state ConnectionState) {
	m.mu.Lock()
	old := m.state
	m.state = state
	fn := m.onStateChange
	m.mu.Unlock()
	if old != state && fn != nil {
		fn(state)
	}
}

// Reset clears all captured calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AudioSent = nil
	m.ImagesSent = nil
	m.EndOfStreamCount = 0
	m.CloseCalled = false
}

// Verify interface compliance at compile time.
var _ Gateway = (*Mock)(nil)
