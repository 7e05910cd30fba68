package media

// Sample rates fixed by the gateway protocol: microphone audio goes up at
// 16kHz, synthesized speech comes back at 24kHz.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
)

// Format identifies an audio container.
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatPCM     Format = "pcm" // raw samples, no container
	FormatUnknown Format = "unknown"
)

// ValidateMP3 checks the first bytes for an MP3 frame-sync pattern
// (11 set bits) or an ID3v2 tag. Relays occasionally stream frames without
// a leading tag, so the sync check matters more than the magic.
func ValidateMP3(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	if data[0] == 'I' && data[1] == 'D' && data[2] == '3' {
		return true
	}
	return data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// DetectFormat sniffs the container from leading bytes. Raw PCM has no
// signature; anything unrecognized that is plausibly sample data reports
// FormatPCM so playback can still wrap it.
func DetectFormat(data []byte) Format {
	switch {
	case ValidateWAV(data):
		return FormatWAV
	case ValidateMP3(data):
		return FormatMP3
	case len(data) >= 2:
		return FormatPCM
	default:
		return FormatUnknown
	}
}
