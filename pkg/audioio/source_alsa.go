//go:build linux

package audioio

import (
	"log/slog"
	"strconv"
)

// ALSA backend for Linux. Capture runs arecord and playback runs aplay,
// both in raw S16_LE mode so chunks move through unmodified.

func alsaCaptureArgs(cfg Config) []string {
	args := []string{
		"arecord", "-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
	}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return args
}

func alsaPlaybackArgs(cfg Config) []string {
	args := []string{
		"aplay", "-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
	}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return args
}

// newALSASource creates a microphone source backed by arecord.
func newALSASource(cfg Config, logger *slog.Logger) (Source, error) {
	return newProcSource(cfg, logger, "alsa", alsaCaptureArgs(cfg), nil), nil
}

// newALSASink creates a speaker sink backed by aplay.
func newALSASink(cfg Config, logger *slog.Logger) (Sink, error) {
	return newProcSink(cfg, logger, "alsa", alsaPlaybackArgs(cfg), nil), nil
}
