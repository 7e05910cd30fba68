package audioio

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Sentinel errors returned by sources and sinks. Callers are expected to
// check these with errors.Is and surface them as device status rather than
// tearing down the session.
var (
	// ErrPermissionDenied indicates the OS refused access to the device,
	// typically because microphone permission was not granted.
	ErrPermissionDenied = errors.New("audioio: device permission denied")

	// ErrDeviceBusy indicates another process holds the device exclusively.
	ErrDeviceBusy = errors.New("audioio: device busy")

	// ErrNoDevice indicates no usable capture or playback device was found.
	ErrNoDevice = errors.New("audioio: no audio device available")
)

// classifyDeviceErr maps a capture/playback tool failure to one of the
// package sentinels based on its stderr output.
func classifyDeviceErr(stderr string, err error) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, firstLine(stderr))
	case strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %s", ErrDeviceBusy, firstLine(stderr))
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if stderr != "" {
		return fmt.Errorf("audio device error: %s", firstLine(stderr))
	}
	return err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
