package voice

import (
	"sync"
	"testing"
	"time"
)

type fireRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fireRecorder) record(reason string) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
}

func (f *fireRecorder) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

func TestSilenceWatcherFiresOnce(t *testing.T) {
	var rec fireRecorder
	w := newSilenceWatcher(5*time.Millisecond, 20*time.Millisecond, 0, rec.record)
	defer w.Stop()

	w.Arm()
	waitFor(t, time.Second, func() bool { return len(rec.all()) == 1 })
	if got := rec.all()[0]; got != "silence" {
		t.Fatalf("reason = %q, want %q", got, "silence")
	}

	// Disarmed after firing: no second shot.
	time.Sleep(60 * time.Millisecond)
	if n := len(rec.all()); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
}

func TestSilenceWatcherTouchDefersCutoff(t *testing.T) {
	var rec fireRecorder
	w := newSilenceWatcher(5*time.Millisecond, 25*time.Millisecond, 0, rec.record)
	defer w.Stop()

	w.Arm()
	deadline := time.Now().Add(80 * time.Millisecond)
	for time.Now().Before(deadline) {
		w.Touch()
		time.Sleep(2 * time.Millisecond)
	}
	if n := len(rec.all()); n != 0 {
		t.Fatalf("fired %d times during activity, want 0", n)
	}

	// Activity stops, the cutoff lands.
	waitFor(t, time.Second, func() bool { return len(rec.all()) == 1 })
}

func TestSilenceWatcherMaxDurationWinsOverActivity(t *testing.T) {
	var rec fireRecorder
	w := newSilenceWatcher(5*time.Millisecond, 50*time.Millisecond, 40*time.Millisecond, rec.record)
	defer w.Stop()

	w.Arm()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				w.Touch()
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()

	waitFor(t, time.Second, func() bool { return len(rec.all()) == 1 })
	if got := rec.all()[0]; got != "max duration" {
		t.Fatalf("reason = %q, want %q", got, "max duration")
	}
}

func TestSilenceWatcherDisarm(t *testing.T) {
	var rec fireRecorder
	w := newSilenceWatcher(5*time.Millisecond, 15*time.Millisecond, 0, rec.record)
	defer w.Stop()

	w.Arm()
	w.Disarm()
	time.Sleep(60 * time.Millisecond)
	if n := len(rec.all()); n != 0 {
		t.Fatalf("fired %d times while disarmed, want 0", n)
	}

	// Re-arming starts the counters from scratch.
	w.Arm()
	waitFor(t, time.Second, func() bool { return len(rec.all()) == 1 })
}

func TestSilenceWatcherStopIsIdempotent(t *testing.T) {
	w := newSilenceWatcher(5*time.Millisecond, 15*time.Millisecond, 0, nil)
	w.Stop()
	w.Stop()
}
