package voice

import (
	"sync"
	"time"
)

// silenceWatcher fires a callback when no activity has been observed for
// a threshold duration, or when a total armed duration cap is reached.
// Activity is reported with Touch; the watcher samples on a fixed tick,
// so cutoffs resolve to within one tick of the configured threshold.
type silenceWatcher struct {
	tick      time.Duration
	threshold time.Duration
	limit     time.Duration // 0 disables the absolute cap
	onFire    func(reason string)

	mu    sync.Mutex
	armed bool
	idle  time.Duration
	total time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newSilenceWatcher(tick, threshold, limit time.Duration, onFire func(reason string)) *silenceWatcher {
	w := &silenceWatcher{
		tick:      tick,
		threshold: threshold,
		limit:     limit,
		onFire:    onFire,
		stopCh:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *silenceWatcher) loop() {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.onTick()
		}
	}
}

func (w *silenceWatcher) onTick() {
	w.mu.Lock()
	if !w.armed {
		w.mu.Unlock()
		return
	}
	w.idle += w.tick
	w.total += w.tick

	var reason string
	switch {
	case w.limit > 0 && w.total >= w.limit:
		reason = "max duration"
	case w.idle >= w.threshold:
		reason = "silence"
	default:
		w.mu.Unlock()
		return
	}
	// Disarm before firing so a slow callback cannot double-fire.
	w.armed = false
	fire := w.onFire
	w.mu.Unlock()

	if fire != nil {
		fire(reason)
	}
}

// Touch records activity, resetting the idle counter. The total counter
// keeps running so the absolute cap still fires under constant activity.
func (w *silenceWatcher) Touch() {
	w.mu.Lock()
	w.idle = 0
	w.mu.Unlock()
}

// Arm resets both counters and starts watching.
func (w *silenceWatcher) Arm() {
	w.mu.Lock()
	w.armed = true
	w.idle = 0
	w.total = 0
	w.mu.Unlock()
}

// Disarm stops watching without firing. Counters reset on the next Arm.
func (w *silenceWatcher) Disarm() {
	w.mu.Lock()
	w.armed = false
	w.mu.Unlock()
}

// Stop shuts the watcher down permanently. Safe to call more than once.
func (w *silenceWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
