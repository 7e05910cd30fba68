// Package camera captures still frames from a local video device and
// encodes them as JPEG, sized for sending over the conversation link as
// image media chunks.
package camera

// Config holds the capture device settings. Zero values for the driver
// controls (brightness, gain, exposure) leave the driver defaults alone.
type Config struct {
	// Device is the V4L2/AVFoundation device index (0 = default camera).
	Device int `json:"device"`

	// === Frame geometry ===
	Width     int `json:"width"`     // Requested frame width in pixels
	Height    int `json:"height"`    // Requested frame height in pixels
	Framerate int `json:"framerate"` // Requested capture FPS

	// Quality is the JPEG encode quality, 1-100.
	Quality int `json:"quality"`

	// === Driver controls (0 = leave driver default) ===
	// Brightness and Gain are passed through to the driver untranslated;
	// valid ranges are device-specific.
	Brightness float64 `json:"brightness"`
	Gain       float64 `json:"gain"`

	// Exposure is a raw driver exposure value. Many UVC drivers expect a
	// negative log2 scale here (-4 roughly 1/16 s).
	Exposure float64 `json:"exposure"`

	// WarmupFrames are read and discarded right after open so auto
	// exposure can settle before the first real grab.
	WarmupFrames int `json:"warmup_frames"`
}

// DefaultConfig returns the recommended configuration: VGA stills at
// moderate JPEG quality, small enough to interleave with audio batches
// without starving them.
func DefaultConfig() Config {
	return Config{
		Device:    0,
		Width:     640,
		Height:    480,
		Framerate: 30,
		Quality:   80,

		Brightness: 0, // Driver default
		Gain:       0, // Driver default
		Exposure:   0, // Auto

		WarmupFrames: 3,
	}
}

// Validate checks the config values against sane ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device < 0 {
		errors = append(errors, "device must be >= 0")
	}
	if c.Width < 160 || c.Width > 4096 {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > 2160 {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > 60 {
		errors = append(errors, "framerate must be between 1 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.WarmupFrames < 0 || c.WarmupFrames > 30 {
		errors = append(errors, "warmup_frames must be between 0 and 30")
	}

	return errors
}
