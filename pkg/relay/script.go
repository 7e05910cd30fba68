package relay

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// ReplySampleRate is the PCM rate of scripted reply audio, matching
// what the production gateway streams back.
const ReplySampleRate = 24000

// Utterance accumulates what a client streamed between replies.
type Utterance struct {
	AudioChunks int
	AudioBytes  int
	Images      int
}

// Duration reports the utterance length implied by its PCM byte count
// at the 16 kHz capture rate.
func (u Utterance) Duration() time.Duration {
	samples := u.AudioBytes / 2
	return time.Duration(samples) * time.Second / 16000
}

// Turn is one scripted reply: optional echo transcription, optional
// text fragment, audio fragments, and the closing marker.
type Turn struct {
	// UserTranscript is echoed back as a user_input transcription
	// before the reply, the way the gateway reports what it heard.
	UserTranscript string

	// Text is sent as a text fragment ahead of the audio.
	Text string

	// Audio fragments are raw PCM16 at ReplySampleRate; each is sent
	// as its own base64 frame, preceded by audio_start.
	Audio [][]byte

	// FragmentDelay spaces the audio fragments out, imitating a model
	// that streams as it speaks.
	FragmentDelay time.Duration

	// SkipTurnComplete leaves the turn open so clients exercise their
	// inbound-silence completion path.
	SkipTurnComplete bool
}

// Responder produces the scripted reply for one completed utterance.
type Responder func(info SessionInfo, u Utterance) Turn

// DefaultResponder acknowledges every utterance with a spoken line,
// cycling through a few phrases.
func DefaultResponder() Responder {
	phrases := []string{
		"Got it, here is my answer.",
		"Sure, let me translate that.",
		"One moment, thinking it over.",
		"Here is what I would say.",
	}
	return func(info SessionInfo, u Utterance) Turn {
		text := phrases[info.Turns%len(phrases)]
		return Turn{
			UserTranscript: fmt.Sprintf("(heard %.1fs of audio)", u.Duration().Seconds()),
			Text:           text,
			Audio:          speechFragments(3, info.Turns),
			FragmentDelay:  40 * time.Millisecond,
		}
	}
}

// ScriptResponder plays the given turns in order, sticking on the last
// one once the script runs out.
func ScriptResponder(turns ...Turn) Responder {
	var mu sync.Mutex
	next := 0
	return func(info SessionInfo, u Utterance) Turn {
		mu.Lock()
		defer mu.Unlock()
		if len(turns) == 0 {
			return Turn{}
		}
		turn := turns[next]
		if next < len(turns)-1 {
			next++
		}
		return turn
	}
}

// speechFragments synthesizes count fragments of voiced-sounding PCM,
// 240 ms each, pitched by seed so consecutive turns sound different.
func speechFragments(count, seed int) [][]byte {
	fragments := make([][]byte, count)
	for i := range fragments {
		fragments[i] = speechLikePCM(ReplySampleRate*240/1000, ReplySampleRate, seed+i)
	}
	return fragments
}

// speechLikePCM generates PCM16 with a voice-like spectrum: a varying
// fundamental, two harmonics, and a syllable-rate envelope.
func speechLikePCM(samples, sampleRate, seed int) []byte {
	baseFreq := 200.0 + float64(seed%5)*50
	amplitude := 8000.0

	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		t := float64(i) / float64(sampleRate)

		sample := math.Sin(2 * math.Pi * baseFreq * t)
		sample += 0.5 * math.Sin(2*math.Pi*baseFreq*2*t)
		sample += 0.25 * math.Sin(2*math.Pi*baseFreq*3*t)

		// Syllable-rate modulation
		envelope := 0.5 + 0.5*math.Sin(2*math.Pi*4*t)
		sample *= envelope

		v := int16(sample * amplitude)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
