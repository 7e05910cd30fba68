package camera

// Preset names for common configurations
const (
	PresetDefault = "default"
	PresetLow     = "low"
	PresetHD      = "hd"
	PresetNight   = "night"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		PresetLow:     LowConfig(),
		PresetHD:      HDConfig(),
		PresetNight:   NightConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetLow,
		PresetHD,
		PresetNight,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	presets := Presets()
	if cfg, ok := presets[name]; ok {
		return &cfg
	}
	return nil
}

// LowConfig returns a bandwidth-light configuration for slow links.
func LowConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 320
	cfg.Height = 240
	cfg.Quality = 65
	return cfg
}

// HDConfig returns a 720p configuration for detail-heavy scenes.
func HDConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = 720
	cfg.Quality = 85
	return cfg
}

// NightConfig returns a configuration for low light: more gain, longer
// exposure, extra warmup frames so auto exposure can converge.
func NightConfig() Config {
	cfg := DefaultConfig()
	cfg.Framerate = 15
	cfg.Gain = 8.0
	cfg.Exposure = -4
	cfg.WarmupFrames = 10
	return cfg
}
