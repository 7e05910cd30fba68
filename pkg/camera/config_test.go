package camera

import "testing"

func TestConfigValidate(t *testing.T) {
	if errs := DefaultConfig().Validate(); len(errs) != 0 {
		t.Fatalf("default config invalid: %v", errs)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative device", func(c *Config) { c.Device = -1 }},
		{"width too small", func(c *Config) { c.Width = 100 }},
		{"width too large", func(c *Config) { c.Width = 8000 }},
		{"height too small", func(c *Config) { c.Height = 0 }},
		{"framerate zero", func(c *Config) { c.Framerate = 0 }},
		{"framerate too high", func(c *Config) { c.Framerate = 240 }},
		{"quality zero", func(c *Config) { c.Quality = 0 }},
		{"quality over 100", func(c *Config) { c.Quality = 101 }},
		{"negative warmup", func(c *Config) { c.WarmupFrames = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if errs := cfg.Validate(); len(errs) == 0 {
				t.Fatal("expected validation error, got none")
			}
		})
	}
}

func TestPresets(t *testing.T) {
	names := PresetNames()
	all := Presets()
	if len(names) != len(all) {
		t.Fatalf("PresetNames has %d entries, Presets has %d", len(names), len(all))
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			cfg := GetPreset(name)
			if cfg == nil {
				t.Fatalf("preset %q not found", name)
			}
			if errs := cfg.Validate(); len(errs) != 0 {
				t.Fatalf("preset %q invalid: %v", name, errs)
			}
		})
	}

	if GetPreset("slowmo") != nil {
		t.Fatal("unknown preset should return nil")
	}
}

func TestGetPresetReturnsCopy(t *testing.T) {
	a := GetPreset(PresetLow)
	a.Quality = 1
	b := GetPreset(PresetLow)
	if b.Quality == 1 {
		t.Fatal("mutating a returned preset leaked into the preset table")
	}
}
