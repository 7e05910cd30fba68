//go:build darwin

package audioio

import (
	"log/slog"
	"strconv"
)

// CoreAudio backend for macOS development machines. Capture and playback
// run through the sox rec/play tools in raw signed-16 mode. Device
// selection uses sox's AUDIODEV environment variable.

func soxCaptureArgs(cfg Config) []string {
	return []string{
		"rec", "-q",
		"-t", "raw",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-e", "signed",
		"-b", "16",
		"-c", strconv.Itoa(cfg.Channels),
		"-",
	}
}

func soxPlaybackArgs(cfg Config) []string {
	return []string{
		"play", "-q",
		"-t", "raw",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-e", "signed",
		"-b", "16",
		"-c", strconv.Itoa(cfg.Channels),
		"-",
	}
}

func soxEnv(cfg Config) []string {
	if cfg.Device == "" {
		return nil
	}
	return []string{"AUDIODEV=" + cfg.Device}
}

// newCoreAudioSource creates a microphone source backed by the sox rec tool.
func newCoreAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return newProcSource(cfg, logger, "coreaudio", soxCaptureArgs(cfg), soxEnv(cfg)), nil
}

// newCoreAudioSink creates a speaker sink backed by the sox play tool.
func newCoreAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return newProcSink(cfg, logger, "coreaudio", soxPlaybackArgs(cfg), soxEnv(cfg)), nil
}
