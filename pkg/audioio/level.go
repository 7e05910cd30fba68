package audioio

import "math"

// MinDBFS is the level reported for silence, the floor of 16-bit PCM's
// usable dynamic range.
const MinDBFS = -96.0

// Level is a point-in-time loudness measurement for a block of samples.
type Level struct {
	// RMS is the root mean square amplitude, normalized to 0.0-1.0.
	RMS float64 `json:"rms"`

	// DBFS is the level in decibels relative to full scale.
	// 0 is the loudest possible signal; MinDBFS is silence.
	DBFS float64 `json:"dbfs"`

	// Peak is the largest absolute sample value in the block.
	Peak int16 `json:"peak"`
}

// Quiet reports whether the level falls below the given dBFS threshold.
func (l Level) Quiet(thresholdDBFS float64) bool {
	return l.DBFS < thresholdDBFS
}

// MeasureLevel computes the loudness of a block of PCM16 samples.
func MeasureLevel(samples []int16) Level {
	if len(samples) == 0 {
		return Level{DBFS: MinDBFS}
	}

	var sum float64
	var peak int16
	for _, s := range samples {
		sum += float64(s) * float64(s)
		if s > peak {
			peak = s
		}
		if -s > peak {
			peak = -s
		}
	}

	rms := math.Sqrt(sum/float64(len(samples))) / 32768.0
	return Level{RMS: rms, DBFS: ToDBFS(rms), Peak: peak}
}

// MeasureLevelBytes computes the loudness of raw PCM16 little-endian bytes.
func MeasureLevelBytes(data []byte) Level {
	return MeasureLevel(BytesToSamples(data))
}

// ToDBFS converts a normalized RMS amplitude (0.0-1.0) to decibels relative
// to full scale, clamped to MinDBFS.
func ToDBFS(rms float64) float64 {
	if rms <= 0 {
		return MinDBFS
	}
	db := 20 * math.Log10(rms)
	if db < MinDBFS {
		return MinDBFS
	}
	return db
}

// Meter tracks a smoothed level across consecutive chunks. It applies fast
// attack and slow release so short bursts register immediately while the
// reading decays gradually, which keeps speech detection from flapping
// between words.
type Meter struct {
	attack  float64
	release float64
	current float64
	primed  bool
}

// NewMeter creates a meter with the given attack and release coefficients
// in (0.0, 1.0]. Higher values track the input faster.
func NewMeter(attack, release float64) *Meter {
	if attack <= 0 || attack > 1 {
		attack = 0.6
	}
	if release <= 0 || release > 1 {
		release = 0.1
	}
	return &Meter{attack: attack, release: release}
}

// Update feeds one block of samples and returns the smoothed level.
func (m *Meter) Update(samples []int16) Level {
	target := MeasureLevel(samples)

	if !m.primed {
		m.current = target.RMS
		m.primed = true
		return Level{RMS: m.current, DBFS: ToDBFS(m.current), Peak: target.Peak}
	}

	coeff := m.release
	if target.RMS > m.current {
		coeff = m.attack
	}
	m.current += coeff * (target.RMS - m.current)

	return Level{RMS: m.current, DBFS: ToDBFS(m.current), Peak: target.Peak}
}

// Reset clears the smoothed state.
func (m *Meter) Reset() {
	m.current = 0
	m.primed = false
}
