// Package conversation provides the WebSocket client for the voice gateway.
// It streams microphone audio and camera frames upstream and dispatches the
// gateway's responses (text, transcriptions, synthesized speech, turn
// boundaries) to callbacks.
//
// The client owns a single writer goroutine; every outbound frame goes
// through one queue, which guarantees the session setup frame reaches the
// gateway before any audio does.
//
// Example usage:
//
//	client, err := conversation.NewClient(
//	    conversation.WithHost("10.0.2.2"),
//	    conversation.WithLanguage("en-US"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnAudio(func(audio []byte) {
//	    // Buffer synthesized speech for playback
//	})
//	client.OnTurnComplete(func() {
//	    // Flush the playback buffer
//	})
//
//	if err := client.Connect(ctx); err != nil {
//	    // The session continues in degraded state; audio is dropped
//	    // until a later Connect succeeds.
//	    log.Warn("gateway unreachable", "error", err)
//	}
//
//	for chunk := range microphoneStream {
//	    client.SendAudio(chunk)
//	}
package conversation

import (
	"context"
	"time"
)

// Gateway is the interface the session engine talks to. *Client is the real
// implementation; *Mock stands in for tests.
type Gateway interface {
	// Connect establishes the WebSocket connection, retrying a fixed
	// number of times. On exhaustion the gateway enters StateDegraded
	// and an error is returned; the caller decides whether to continue.
	Connect(ctx context.Context) error

	// Close shuts down the connection and releases resources.
	// It is safe to call multiple times.
	Close() error

	// State returns the current connection state.
	State() ConnectionState

	// IsConnected returns true if the gateway has an active connection.
	IsConnected() bool

	// SendAudio streams one batch of PCM16 microphone audio upstream.
	SendAudio(audio []byte) error

	// SendImage streams one JPEG still frame upstream.
	SendImage(jpeg []byte) error

	// SendEndOfStream tells the gateway the user stopped speaking.
	SendEndOfStream() error

	// Callbacks. Set these before Connect.

	// OnText is called for plain text responses.
	OnText(fn func(text string))

	// OnTranscription is called for speech-to-text results that passed
	// the suppression filter.
	OnTranscription(fn func(t Transcription))

	// OnAudioStart is called when a response's audio stream begins.
	OnAudioStart(fn func())

	// OnAudio is called with decoded audio bytes (PCM16 or MP3).
	OnAudio(fn func(audio []byte))

	// OnTurnComplete is called when the gateway finishes a response turn.
	OnTurnComplete(fn func())

	// OnServerError is called when the gateway reports an error event.
	OnServerError(fn func(msg string))

	// OnDisconnect is called when an established connection drops.
	OnDisconnect(fn func(err error))

	// OnStateChange is called whenever the connection state moves.
	OnStateChange(fn func(state ConnectionState))

	// Metrics returns a snapshot of connection statistics.
	Metrics() Metrics
}

// Transcription is a speech-to-text result forwarded to callbacks.
type Transcription struct {
	// Text is the recognized text.
	Text string

	// Source identifies whose speech was transcribed ("user_input" for
	// microphone audio).
	Source string
}

// ConnectionState represents the gateway connection state.
type ConnectionState int

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connection is being established.
	StateConnecting
	// StateConnected indicates an active connection.
	StateConnected
	// StateDegraded indicates connect attempts were exhausted; the
	// session stays alive but outbound frames are dropped.
	StateDegraded
)

// String returns a human-readable connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Metrics tracks connection and usage statistics.
type Metrics struct {
	// ConnectionTime is when the connection was established.
	ConnectionTime time.Time

	// MessagesSent is the total messages sent.
	MessagesSent int64

	// MessagesReceived is the total messages received.
	MessagesReceived int64

	// AudioBytesSent is the total microphone audio bytes sent.
	AudioBytesSent int64

	// AudioBytesReceived is the total synthesized audio bytes received.
	AudioBytesReceived int64

	// TurnsCompleted is the number of completed response turns.
	TurnsCompleted int64

	// Errors is the count of gateway error events and transport errors.
	Errors int64
}
