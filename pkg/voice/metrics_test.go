package voice

import (
	"strings"
	"testing"
	"time"
)

func TestMetricsTurnLifecycle(t *testing.T) {
	m := NewMetricsCollector()

	m.MarkCaptureStart()
	m.AddChunkSent(3200)
	m.AddChunkSent(3200)
	m.MarkCaptureEnd()
	m.MarkFirstReply()
	m.AddFragment(512)
	m.MarkFirstAudio()
	m.MarkTurnComplete()
	m.MarkPlaybackEnd()

	hist := m.History()
	if len(hist) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist))
	}
	turn := hist[0]
	if turn.ChunksSent != 2 || turn.BytesSent != 6400 {
		t.Errorf("outbound = %d chunks / %d bytes", turn.ChunksSent, turn.BytesSent)
	}
	if turn.FragmentsReceived != 1 || turn.BytesReceived != 512 {
		t.Errorf("inbound = %d fragments / %d bytes", turn.FragmentsReceived, turn.BytesReceived)
	}
	if turn.CaptureDuration < 0 || turn.TotalLatency < 0 {
		t.Errorf("negative latency: %+v", turn)
	}
	if turn.PlaybackEndTime.Before(turn.CaptureStartTime) {
		t.Error("timestamps out of order")
	}
}

func TestMetricsMarksAreIdempotent(t *testing.T) {
	m := NewMetricsCollector()
	m.MarkCaptureStart()
	m.MarkCaptureEnd()

	first := m.Current().CaptureEndTime
	time.Sleep(5 * time.Millisecond)
	m.MarkCaptureEnd()
	if got := m.Current().CaptureEndTime; !got.Equal(first) {
		t.Fatal("second MarkCaptureEnd moved the timestamp")
	}

	m.MarkFirstReply()
	firstReply := m.Current().FirstReplyTime
	time.Sleep(5 * time.Millisecond)
	m.MarkFirstReply()
	if got := m.Current().FirstReplyTime; !got.Equal(firstReply) {
		t.Fatal("second MarkFirstReply moved the timestamp")
	}
}

func TestMetricsCaptureStartResetsTurn(t *testing.T) {
	m := NewMetricsCollector()
	m.MarkCaptureStart()
	m.AddChunkSent(100)
	m.MarkCaptureStart()

	if got := m.Current().ChunksSent; got != 0 {
		t.Fatalf("chunks sent after reset = %d, want 0", got)
	}
}

func TestMetricsHistoryBounded(t *testing.T) {
	m := NewMetricsCollector()
	for i := 0; i < metricsHistorySize+25; i++ {
		m.MarkCaptureStart()
		m.MarkPlaybackEnd()
	}
	if got := len(m.History()); got != metricsHistorySize {
		t.Fatalf("history length = %d, want %d", got, metricsHistorySize)
	}
}

func TestMetricsAverage(t *testing.T) {
	m := NewMetricsCollector()
	if avg := m.Average(); avg.ChunksSent != 0 {
		t.Fatal("average of empty history not zero")
	}

	for i := 0; i < 4; i++ {
		m.MarkCaptureStart()
		m.AddChunkSent(1000)
		m.MarkPlaybackEnd()
	}
	if got := m.Average().BytesSent; got != 1000 {
		t.Fatalf("average bytes sent = %d, want 1000", got)
	}
}

func TestMetricsOnUpdate(t *testing.T) {
	m := NewMetricsCollector()
	updates := make(chan TurnMetrics, 16)
	m.OnUpdate(func(t TurnMetrics) { updates <- t })

	m.MarkCaptureStart()
	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("no update after mark")
	}
}

func TestFormatLatency(t *testing.T) {
	var zero TurnMetrics
	if got := zero.FormatLatency(); !strings.Contains(got, "---ms") {
		t.Fatalf("zero latency rendered %q", got)
	}

	turn := TurnMetrics{
		FirstReplyLatency: 250 * time.Millisecond,
		FirstAudioLatency: 400 * time.Millisecond,
		TurnLatency:       900 * time.Millisecond,
		TotalLatency:      2 * time.Second,
	}
	got := turn.FormatLatency()
	for _, want := range []string{"reply=250ms", "audio=400ms", "turn=900ms", "total=2000ms"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatLatency() = %q, missing %q", got, want)
		}
	}
}
