//go:build !darwin

package audioio

import (
	"fmt"
	"log/slog"
)

// newCoreAudioSource returns an error on non-macOS platforms.
func newCoreAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("coreaudio backend is only available on macOS")
}

// newCoreAudioSink returns an error on non-macOS platforms.
func newCoreAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("coreaudio backend is only available on macOS")
}
