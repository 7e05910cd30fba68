package voice

import (
	"fmt"
	"sync"
	"time"
)

// TurnMetrics tracks timing and volume for a single conversational turn,
// from the first captured sample to the end of reply playback.
type TurnMetrics struct {
	// Timestamps
	CaptureStartTime time.Time `json:"capture_start_time,omitempty"`
	CaptureEndTime   time.Time `json:"capture_end_time,omitempty"`
	FirstReplyTime   time.Time `json:"first_reply_time,omitempty"`
	FirstAudioTime   time.Time `json:"first_audio_time,omitempty"`
	TurnCompleteTime time.Time `json:"turn_complete_time,omitempty"`
	PlaybackEndTime  time.Time `json:"playback_end_time,omitempty"`

	// Derived latencies
	CaptureDuration   time.Duration `json:"capture_duration,omitempty"`
	FirstReplyLatency time.Duration `json:"first_reply_latency,omitempty"`
	FirstAudioLatency time.Duration `json:"first_audio_latency,omitempty"`
	TurnLatency       time.Duration `json:"turn_latency,omitempty"`
	TotalLatency      time.Duration `json:"total_latency,omitempty"`

	// Volume counters
	ChunksSent        int   `json:"chunks_sent,omitempty"`
	BytesSent         int64 `json:"bytes_sent,omitempty"`
	FragmentsReceived int   `json:"fragments_received,omitempty"`
	BytesReceived     int64 `json:"bytes_received,omitempty"`
}

// MetricsCollector accumulates per-turn metrics and keeps a bounded
// history of completed turns. All methods are safe for concurrent use.
type MetricsCollector struct {
	mu       sync.RWMutex
	current  TurnMetrics
	history  []TurnMetrics
	onUpdate func(TurnMetrics)
}

const metricsHistorySize = 100

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]TurnMetrics, 0, metricsHistorySize),
	}
}

// OnUpdate registers a callback invoked with a snapshot after each mark.
func (m *MetricsCollector) OnUpdate(fn func(TurnMetrics)) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// MarkCaptureStart begins a new turn, discarding any partial one.
func (m *MetricsCollector) MarkCaptureStart() {
	m.mu.Lock()
	m.current = TurnMetrics{CaptureStartTime: time.Now()}
	m.notifyLocked()
	m.mu.Unlock()
}

// MarkCaptureEnd records the end of audio capture.
func (m *MetricsCollector) MarkCaptureEnd() {
	m.mu.Lock()
	if m.current.CaptureEndTime.IsZero() {
		m.current.CaptureEndTime = time.Now()
		if !m.current.CaptureStartTime.IsZero() {
			m.current.CaptureDuration = m.current.CaptureEndTime.Sub(m.current.CaptureStartTime)
		}
		m.notifyLocked()
	}
	m.mu.Unlock()
}

// MarkFirstReply records the first text or transcription of the turn.
// Subsequent calls within the same turn are ignored.
func (m *MetricsCollector) MarkFirstReply() {
	m.mu.Lock()
	if m.current.FirstReplyTime.IsZero() {
		m.current.FirstReplyTime = time.Now()
		if !m.current.CaptureEndTime.IsZero() {
			m.current.FirstReplyLatency = m.current.FirstReplyTime.Sub(m.current.CaptureEndTime)
		}
		m.notifyLocked()
	}
	m.mu.Unlock()
}

// MarkFirstAudio records the first reply audio fragment of the turn.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = time.Now()
		if !m.current.CaptureEndTime.IsZero() {
			m.current.FirstAudioLatency = m.current.FirstAudioTime.Sub(m.current.CaptureEndTime)
		}
		m.notifyLocked()
	}
	m.mu.Unlock()
}

// MarkTurnComplete records the model finishing its reply.
func (m *MetricsCollector) MarkTurnComplete() {
	m.mu.Lock()
	if m.current.TurnCompleteTime.IsZero() {
		m.current.TurnCompleteTime = time.Now()
		if !m.current.CaptureEndTime.IsZero() {
			m.current.TurnLatency = m.current.TurnCompleteTime.Sub(m.current.CaptureEndTime)
		}
		m.notifyLocked()
	}
	m.mu.Unlock()
}

// MarkPlaybackEnd closes out the turn and archives it.
func (m *MetricsCollector) MarkPlaybackEnd() {
	m.mu.Lock()
	m.current.PlaybackEndTime = time.Now()
	if !m.current.CaptureEndTime.IsZero() {
		m.current.TotalLatency = m.current.PlaybackEndTime.Sub(m.current.CaptureEndTime)
	}
	m.history = append(m.history, m.current)
	if len(m.history) > metricsHistorySize {
		m.history = m.history[1:]
	}
	m.notifyLocked()
	m.mu.Unlock()
}

// AddChunkSent counts one outbound audio batch.
func (m *MetricsCollector) AddChunkSent(bytes int) {
	m.mu.Lock()
	m.current.ChunksSent++
	m.current.BytesSent += int64(bytes)
	m.mu.Unlock()
}

// AddFragment counts one inbound reply audio fragment.
func (m *MetricsCollector) AddFragment(bytes int) {
	m.mu.Lock()
	m.current.FragmentsReceived++
	m.current.BytesReceived += int64(bytes)
	m.mu.Unlock()
}

// Current returns a snapshot of the in-progress turn.
func (m *MetricsCollector) Current() TurnMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// History returns copies of the archived turns, oldest first.
func (m *MetricsCollector) History() []TurnMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TurnMetrics, len(m.history))
	copy(out, m.history)
	return out
}

// Average returns the mean latencies across archived turns.
func (m *MetricsCollector) Average() TurnMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return TurnMetrics{}
	}
	var avg TurnMetrics
	for _, t := range m.history {
		avg.CaptureDuration += t.CaptureDuration
		avg.FirstReplyLatency += t.FirstReplyLatency
		avg.FirstAudioLatency += t.FirstAudioLatency
		avg.TurnLatency += t.TurnLatency
		avg.TotalLatency += t.TotalLatency
		avg.ChunksSent += t.ChunksSent
		avg.BytesSent += t.BytesSent
		avg.FragmentsReceived += t.FragmentsReceived
		avg.BytesReceived += t.BytesReceived
	}
	n := time.Duration(len(m.history))
	avg.CaptureDuration /= n
	avg.FirstReplyLatency /= n
	avg.FirstAudioLatency /= n
	avg.TurnLatency /= n
	avg.TotalLatency /= n
	avg.ChunksSent /= len(m.history)
	avg.BytesSent /= int64(len(m.history))
	avg.FragmentsReceived /= len(m.history)
	avg.BytesReceived /= int64(len(m.history))
	return avg
}

// notifyLocked dispatches the update callback without holding the caller up.
func (m *MetricsCollector) notifyLocked() {
	if m.onUpdate != nil {
		snapshot := m.current
		go m.onUpdate(snapshot)
	}
}

// FormatLatency renders the headline turn latencies for log lines.
func (t TurnMetrics) FormatLatency() string {
	return fmt.Sprintf("reply=%s audio=%s turn=%s total=%s",
		formatDuration(t.FirstReplyLatency),
		formatDuration(t.FirstAudioLatency),
		formatDuration(t.TurnLatency),
		formatDuration(t.TotalLatency),
	)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}
