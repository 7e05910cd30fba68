// Package wire defines the JSON message types exchanged with the TravelBuddy
// relay service over its WebSocket endpoint. The client sends a setup message
// followed by realtime media chunks; the relay streams back presence-tagged
// events (text, transcription, audio fragments, turn markers, errors).
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MIME types accepted by the relay inside media chunks.
const (
	MimePCM  = "audio/pcm"
	MimeJPEG = "image/jpeg"
)

// Control frame types.
const (
	TypePing        = "ping"
	TypeEndOfStream = "end_of_stream"
	TypeError       = "error" // legacy inbound error form
)

// Transcription status values.
const (
	StatusOK      = "ok"
	StatusUnclear = "unclear"
	StatusError   = "error"
)

// SourceUserInput marks a transcription of the user's own speech.
const SourceUserInput = "user_input"

// Markers the relay embeds in transcription text when recognition failed.
// Entries carrying them are suppressed from the visible transcript.
const (
	MarkerNotRecognizable = "<Not recognizable>"
	MarkerUnclearAudio    = "UNCLEAR_AUDIO"
)

// =============================================================================
// Client → Relay messages
// =============================================================================

// GenerationConfig carries per-session generation settings.
type GenerationConfig struct {
	Language string `json:"language,omitempty"`
}

// SetupConfig is the payload of the setup message.
type SetupConfig struct {
	GenerationConfig GenerationConfig `json:"generation_config"`
}

// Setup is the first message of every session. Invariant: it precedes any
// realtime input on the connection.
type Setup struct {
	Setup SetupConfig `json:"setup"`
}

// NewSetup creates a setup message with the given language code.
func NewSetup(language string) *Setup {
	return &Setup{
		Setup: SetupConfig{
			GenerationConfig: GenerationConfig{Language: language},
		},
	}
}

// MediaChunk is one base64-encoded media payload.
type MediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64 encoded
}

// RealtimeInput groups media chunks for one realtime message.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

// Realtime is a streamed media message.
type Realtime struct {
	RealtimeInput RealtimeInput `json:"realtime_input"`
}

// NewAudioChunk wraps raw PCM16 bytes as a realtime audio message.
func NewAudioChunk(pcm []byte) *Realtime {
	return &Realtime{
		RealtimeInput: RealtimeInput{
			MediaChunks: []MediaChunk{{
				MimeType: MimePCM,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	}
}

// NewImageChunk wraps JPEG bytes as a realtime still-frame message.
func NewImageChunk(jpeg []byte) *Realtime {
	return &Realtime{
		RealtimeInput: RealtimeInput{
			MediaChunks: []MediaChunk{{
				MimeType: MimeJPEG,
				Data:     base64.StdEncoding.EncodeToString(jpeg),
			}},
		},
	}
}

// Decode returns the chunk's raw bytes.
func (c *MediaChunk) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Data)
}

// Control is a typed control frame (ping, end_of_stream).
type Control struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// NewPing creates a liveness probe frame.
func NewPing() *Control {
	return &Control{Type: TypePing, Timestamp: time.Now().UnixMilli()}
}

// NewEndOfStream creates the capture end marker.
func NewEndOfStream() *Control {
	return &Control{Type: TypeEndOfStream, Timestamp: time.Now().UnixMilli()}
}

// =============================================================================
// Relay → Client events
// =============================================================================

// EventKind identifies which field of a ServerEvent is populated.
type EventKind string

const (
	EventText          EventKind = "text"
	EventTranscription EventKind = "transcription"
	EventAudioStart    EventKind = "audio_start"
	EventAudio         EventKind = "audio"
	EventTurnComplete  EventKind = "turn_complete"
	EventError         EventKind = "error"
	EventUnknown       EventKind = "unknown"
)

// Transcription is a speech-to-text entry attached to the conversation.
type Transcription struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Status string `json:"status,omitempty"`
}

// Suppressed reports whether this entry must be hidden from the visible
// transcript: failed-recognition status, or a recognition marker in the text.
// Suppressed entries are not errors; they are silently dropped.
func (t *Transcription) Suppressed() bool {
	if t == nil {
		return false
	}
	if t.Status == StatusUnclear || t.Status == StatusError {
		return true
	}
	if strings.Contains(t.Text, MarkerNotRecognizable) {
		return true
	}
	return strings.Contains(t.Text, MarkerUnclearAudio)
}

// ServerEvent is one inbound frame. The relay tags events by field presence
// rather than a type discriminator, so optional fields are pointers.
type ServerEvent struct {
	Text          *string        `json:"text,omitempty"`
	Transcription *Transcription `json:"transcription,omitempty"`
	AudioStart    bool           `json:"audio_start,omitempty"`
	Audio         *string        `json:"audio,omitempty"` // base64 encoded
	TurnComplete  bool           `json:"turn_complete,omitempty"`
	Error         *string        `json:"error,omitempty"`

	// Legacy error form: {"type": "error", "message": "..."}.
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// Kind returns the event discriminator. Errors win over data fields so a
// frame carrying both is never treated as payload.
func (e *ServerEvent) Kind() EventKind {
	switch {
	case e.Error != nil || e.Type == TypeError:
		return EventError
	case e.TurnComplete:
		return EventTurnComplete
	case e.AudioStart:
		return EventAudioStart
	case e.Audio != nil:
		return EventAudio
	case e.Transcription != nil:
		return EventTranscription
	case e.Text != nil:
		return EventText
	default:
		return EventUnknown
	}
}

// ErrorMessage returns the error text for either error form.
func (e *ServerEvent) ErrorMessage() string {
	if e.Error != nil {
		return *e.Error
	}
	return e.Message
}

// DecodeAudio returns the decoded audio fragment bytes.
func (e *ServerEvent) DecodeAudio() ([]byte, error) {
	if e.Audio == nil {
		return nil, fmt.Errorf("wire: event has no audio field")
	}
	return base64.StdEncoding.DecodeString(*e.Audio)
}

// EncodeAudio encodes a PCM fragment for the audio field of a server
// event. Counterpart of DecodeAudio for code on the relay side.
func EncodeAudio(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// ParseServerEvent decodes one inbound frame.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("wire: parse server event: %w", err)
	}
	return &ev, nil
}

// Marshal encodes any outbound message as one JSON frame.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return data, nil
}
