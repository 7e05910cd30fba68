package voice

import "errors"

// Common errors returned by the session engine.
var (
	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("voice: engine closed")

	// ErrNotStarted is returned when an operation requires Start first.
	ErrNotStarted = errors.New("voice: engine not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("voice: engine already started")

	// ErrAlreadyListening is returned when capture is already running.
	ErrAlreadyListening = errors.New("voice: already listening")

	// ErrNoAudioInput is returned when no audio source was configured.
	ErrNoAudioInput = errors.New("voice: no audio input configured")

	// ErrNoCamera is returned when no frame grabber was configured.
	ErrNoCamera = errors.New("voice: no camera configured")
)
