package voice

import (
	"time"

	"github.com/Hmena01/travelbuddy/pkg/conversation"
)

// Mode is the session's position in the conversation cycle.
type Mode int

const (
	// ModeIdle is the resting state: no capture, no playback.
	ModeIdle Mode = iota
	// ModeListening means the microphone is live and audio is streaming
	// upstream.
	ModeListening
	// ModeThinking is the single-shot gap between capture stop and the
	// first reply.
	ModeThinking
	// ModeSpeaking means a reply turn is being received or played.
	ModeSpeaking
	// ModePaused blocks automatic re-listening until resumed.
	ModePaused
	// ModeWaiting is the continuous-mode gap between a finished reply
	// and the automatic re-listen.
	ModeWaiting
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeListening:
		return "listening"
	case ModeThinking:
		return "thinking"
	case ModeSpeaking:
		return "speaking"
	case ModePaused:
		return "paused"
	case ModeWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// validTransitions is the allowed mode graph. A reply turn may start in any
// mode, so every mode lists ModeSpeaking.
var validTransitions = map[Mode][]Mode{
	ModeIdle:      {ModeListening, ModeSpeaking},
	ModeListening: {ModeIdle, ModeThinking, ModeWaiting, ModeSpeaking, ModePaused},
	ModeThinking:  {ModeIdle, ModeWaiting, ModeSpeaking, ModePaused},
	ModeSpeaking:  {ModeIdle, ModeWaiting, ModeSpeaking, ModePaused},
	ModeWaiting:   {ModeIdle, ModeListening, ModeSpeaking, ModePaused},
	ModePaused:    {ModeIdle, ModeWaiting, ModeSpeaking},
}

func canTransition(from, to Mode) bool {
	for _, m := range validTransitions[from] {
		if m == to {
			return true
		}
	}
	return false
}

// State is a read-only snapshot of the session, safe to hand to callers.
type State struct {
	// Mode is the current conversation mode.
	Mode Mode `json:"mode"`

	// Connected is true while the gateway connection is up.
	Connected bool `json:"connected"`

	// ConnState is the gateway's detailed connection state.
	ConnState conversation.ConnectionState `json:"-"`

	// Conversation is true when continuous turn-taking is enabled.
	Conversation bool `json:"conversation"`

	// Paused blocks automatic re-listening while true.
	Paused bool `json:"paused"`

	// LastInbound is when the last gateway event arrived.
	LastInbound time.Time `json:"last_inbound"`

	// LastCapture is when the last microphone chunk arrived.
	LastCapture time.Time `json:"last_capture"`
}
