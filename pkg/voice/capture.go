package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Hmena01/travelbuddy/pkg/audioio"
)

// captureSession is one microphone run: a source, the silence watcher that
// ends it, a level meter, and the sample buffer awaiting the next flush.
type captureSession struct {
	source  audioio.Source
	watcher *silenceWatcher
	meter   *audioio.Meter
	buf     []int16
	quit    chan struct{}
}

// StartListening opens the microphone and streams batched audio to the
// gateway until the silence cutoff fires or StopListening is called. It
// returns once capture is running. Must not be called from an engine
// callback.
func (e *Engine) StartListening(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if !e.started.Load() {
		return ErrNotStarted
	}
	if e.newSource == nil {
		return ErrNoAudioInput
	}
	if e.Snapshot().Mode == ModeListening {
		return ErrAlreadyListening
	}

	src, err := e.newSource()
	if err != nil {
		return fmt.Errorf("voice: open audio input: %w", err)
	}
	if err := src.Start(ctx); err != nil {
		src.Close()
		if errors.Is(err, audioio.ErrPermissionDenied) {
			e.emitStatus("microphone access denied, check OS permissions")
			return fmt.Errorf("voice: microphone permission: %w", err)
		}
		return fmt.Errorf("voice: start audio input: %w", err)
	}

	errCh := make(chan error, 1)
	if !e.post(func() { errCh <- e.installCapture(src) }) {
		src.Close()
		return ErrEngineClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-e.quit:
		select {
		case err := <-errCh:
			return err
		default:
		}
		src.Close()
		return ErrEngineClosed
	}
}

// StopListening ends the capture session as if the silence cutoff had
// fired. No-op when not listening.
func (e *Engine) StopListening() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	e.post(func() { e.stopCapture(e.afterCaptureMode()) })
	return nil
}

// installCapture adopts a started source as the active session. Runs on
// the event loop.
func (e *Engine) installCapture(src audioio.Source) error {
	if e.capture != nil {
		src.Close()
		return ErrAlreadyListening
	}
	from := e.mode()
	if !e.transition(ModeListening) {
		src.Close()
		return fmt.Errorf("voice: cannot listen while %s", from)
	}

	cs := &captureSession{
		source: src,
		meter:  audioio.NewMeter(0, 0),
		quit:   make(chan struct{}),
	}
	cs.watcher = newSilenceWatcher(
		e.config.OutboundTick,
		e.config.OutboundSilence,
		e.config.MaxRecording,
		func(reason string) {
			e.post(func() { e.autoStop(cs, reason) })
		},
	)
	cs.watcher.Arm()
	e.capture = cs

	e.metrics.MarkCaptureStart()
	e.touchCapture()

	e.group.Go(func() error {
		e.pumpCapture(cs)
		return nil
	})
	e.group.Go(func() error {
		e.batchLoop(cs)
		return nil
	})

	e.logger.Info("listening", "source", src.Name())
	return nil
}

// pumpCapture forwards chunks from the device goroutine onto the loop.
func (e *Engine) pumpCapture(cs *captureSession) {
	for {
		select {
		case <-cs.quit:
			return
		case <-e.quit:
			return
		case chunk, ok := <-cs.source.Stream():
			if !ok {
				return
			}
			e.post(func() { e.captureChunk(cs, chunk) })
		}
	}
}

// batchLoop flushes buffered samples on the batch cadence.
func (e *Engine) batchLoop(cs *captureSession) {
	ticker := time.NewTicker(e.config.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cs.quit:
			return
		case <-e.quit:
			return
		case <-ticker.C:
			e.post(func() { e.flushBatch(cs) })
		}
	}
}

// captureChunk buffers one device chunk and feeds the level meter. Only
// audible chunks reset the silence cutoff.
func (e *Engine) captureChunk(cs *captureSession, chunk audioio.AudioChunk) {
	if e.capture != cs {
		return // stale chunk from a torn-down session
	}
	cs.buf = append(cs.buf, chunk.Samples...)
	e.touchCapture()

	level := cs.meter.Update(chunk.Samples)
	if !level.Quiet(e.config.QuietThresholdDBFS) {
		cs.watcher.Touch()
	}
	e.emitLevel(level)
}

// flushBatch ships the buffered samples accumulated since the last tick.
func (e *Engine) flushBatch(cs *captureSession) {
	if e.capture != cs {
		return
	}
	e.sendBuffered(cs)
}

// sendBuffered uploads the sample buffer as one chunk. Transport refusals
// drop the batch; capture keeps running.
func (e *Engine) sendBuffered(cs *captureSession) {
	if len(cs.buf) == 0 {
		return
	}
	chunk := audioio.AudioChunk{Samples: cs.buf}
	data := chunk.Bytes()
	cs.buf = cs.buf[:0]

	if err := e.gateway.SendAudio(data); err != nil {
		e.logger.Debug("dropping audio batch", "bytes", len(data), "error", err)
		return
	}
	e.metrics.AddChunkSent(len(data))
}

// autoStop is the silence watcher firing for the active session.
func (e *Engine) autoStop(cs *captureSession, reason string) {
	if e.capture != cs {
		return
	}
	e.logger.Info("capture cutoff", "reason", reason)
	e.stopCapture(e.afterCaptureMode())
}

// stopCapture finalizes the utterance and moves to the given mode.
func (e *Engine) stopCapture(next Mode) {
	if e.capture == nil {
		return
	}
	e.teardownCapture(true)
	e.transition(next)
}

// teardownCapture closes the active session, flushing whatever audio is
// still buffered. sendEOS marks the utterance finished on the wire; it is
// false when the transport itself is gone.
func (e *Engine) teardownCapture(sendEOS bool) {
	cs := e.capture
	if cs == nil {
		return
	}
	e.capture = nil
	close(cs.quit)
	cs.watcher.Stop()

	e.sendBuffered(cs)
	cs.source.Close()

	if sendEOS {
		if err := e.gateway.SendEndOfStream(); err != nil {
			e.logger.Debug("end of stream not sent", "error", err)
		}
	}
	e.metrics.MarkCaptureEnd()
}

// afterCaptureMode is where capture lands when it stops: continuous mode
// awaits the server turn, single-shot shows thinking until the reply.
func (e *Engine) afterCaptureMode() Mode {
	if e.Snapshot().Conversation {
		return ModeWaiting
	}
	return ModeThinking
}
