package voice

import (
	"context"
	"errors"
	"time"

	"github.com/Hmena01/travelbuddy/pkg/audio"
)

// beginTurn starts collecting a new reply. Any ongoing capture or playback
// yields: the server speaking always wins.
func (e *Engine) beginTurn() {
	e.markReply()
	e.stopSettle()

	if e.capture != nil {
		e.teardownCapture(true)
	}
	if e.player != nil && e.player.IsPlaying() {
		e.player.Cancel()
	}
	e.playGen++
	e.playPending = false

	e.turn.Reset()
	e.turnActive = true
	e.inboundWatch.Arm()
	e.transition(ModeSpeaking)
}

// appendTurn buffers one decoded reply fragment. A fragment without a
// preceding audio_start opens the turn implicitly.
func (e *Engine) appendTurn(chunk []byte) {
	if !e.turnActive {
		e.beginTurn()
	}
	e.turn.Write(chunk)
	e.inboundWatch.Touch()
	e.metrics.AddFragment(len(chunk))
	e.metrics.MarkFirstAudio()
	e.touchInbound()
}

// finishTurn closes the in-flight reply and hands the assembled clip to
// the player. reason is "turn complete" for the explicit server marker or
// "inbound silence" when the fragment stream just stopped.
func (e *Engine) finishTurn(reason string) {
	if !e.turnActive {
		if e.playPending {
			return // duplicate end marker while the clip plays out
		}
		// A completion with no buffered audio still ends the turn, for
		// text-only replies.
		switch e.mode() {
		case ModeThinking, ModeSpeaking, ModeWaiting:
			e.afterPlayback(nil)
		}
		return
	}

	e.turnActive = false
	e.inboundWatch.Disarm()
	e.metrics.MarkTurnComplete()

	clip := make([]byte, e.turn.Len())
	copy(clip, e.turn.Bytes())
	e.turn.Reset()

	switch {
	case len(clip) < audio.MinPlayableBytes:
		e.logger.Debug("reply clip below playable size", "bytes", len(clip), "reason", reason)
		e.afterPlayback(nil)
	case e.player == nil:
		e.logger.Debug("no audio output, discarding reply clip", "bytes", len(clip))
		e.afterPlayback(nil)
	default:
		gen := e.playGen
		e.playPending = true
		e.logger.Info("turn complete",
			"reason", reason,
			"clip_bytes", len(clip),
			"latency", e.metrics.Current().FormatLatency(),
		)
		go func() {
			err := e.player.Play(e.runCtx, clip)
			e.post(func() {
				if gen != e.playGen {
					return // a newer turn took over
				}
				e.afterPlayback(err)
			})
		}()
	}
}

// afterPlayback runs once per turn when playback ends, fails, or was never
// needed, and decides where the session goes next.
func (e *Engine) afterPlayback(err error) {
	e.playPending = false
	e.metrics.MarkPlaybackEnd()

	if err != nil && !errors.Is(err, audio.ErrPreempted) && !errors.Is(err, context.Canceled) {
		e.logger.Warn("playback failed", "error", err)
	}

	st := e.Snapshot()
	switch {
	case st.Paused:
		e.transition(ModePaused)
	case st.Conversation:
		if e.transition(ModeWaiting) {
			e.scheduleListen()
		}
	default:
		e.transition(ModeIdle)
	}
}

// scheduleListen arms the settle-delay timer that re-opens the microphone
// in continuous mode.
func (e *Engine) scheduleListen() {
	e.stopSettle()
	e.settleTimer = time.AfterFunc(e.config.SettleDelay, func() {
		e.post(e.autoListen)
	})
}

func (e *Engine) stopSettle() {
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
}

// autoListen re-arms capture after the settle delay, unless the session
// moved on while the timer ran.
func (e *Engine) autoListen() {
	st := e.Snapshot()
	if st.Mode != ModeWaiting || !st.Conversation || st.Paused {
		return
	}
	if !st.Connected {
		e.logger.Debug("skipping auto listen, transport offline")
		return
	}
	go func() {
		if err := e.StartListening(e.runCtx); err != nil {
			e.logger.Warn("auto listen failed", "error", err)
		}
	}()
}

// connectionLost clears everything in flight when the transport drops.
// The engine does not redial on its own; Connect starts a fresh attempt.
func (e *Engine) connectionLost(err error) {
	e.logger.Warn("connection lost", "error", err)

	if e.capture != nil {
		e.teardownCapture(false)
	}
	if e.player != nil {
		e.player.Cancel()
	}
	e.playGen++
	e.playPending = false
	e.turnActive = false
	e.turn.Reset()
	e.inboundWatch.Disarm()
	e.stopSettle()

	e.forceMode(ModeIdle)
	e.emitStatus("connection lost")
}

// applyConversationMode flips continuous turn-taking. Disabling while
// listening stops capture right away; an in-flight reply still plays out,
// but nothing re-arms afterwards.
func (e *Engine) applyConversationMode(enabled bool) {
	e.stateMu.Lock()
	if e.state.Conversation == enabled {
		e.stateMu.Unlock()
		return
	}
	e.state.Conversation = enabled
	e.stateMu.Unlock()

	if enabled {
		e.logger.Info("conversation mode on")
		e.emitStatus("conversation mode on")
		return
	}

	e.logger.Info("conversation mode off")
	e.stopSettle()
	switch e.mode() {
	case ModeListening:
		e.stopCapture(ModeIdle)
	case ModeWaiting:
		e.transition(ModeIdle)
	}
	e.emitStatus("conversation mode off")
}

// applyPaused pauses the loop without cutting off the server: capture is
// finalized on the wire, a playing clip runs out, and nothing re-arms
// until resume.
func (e *Engine) applyPaused(paused bool) {
	e.stateMu.Lock()
	if e.state.Paused == paused {
		e.stateMu.Unlock()
		return
	}
	e.state.Paused = paused
	e.stateMu.Unlock()

	if paused {
		e.stopSettle()
		switch e.mode() {
		case ModeListening:
			e.teardownCapture(true)
			e.transition(ModePaused)
		case ModeThinking, ModeWaiting, ModeSpeaking:
			e.transition(ModePaused)
		}
		e.logger.Info("paused")
		e.emitStatus("paused")
		return
	}

	if e.mode() == ModePaused {
		if e.Snapshot().Conversation {
			e.transition(ModeWaiting)
			if e.player == nil || !e.player.IsPlaying() {
				e.scheduleListen()
			}
		} else {
			e.transition(ModeIdle)
		}
	}
	e.logger.Info("resumed")
	e.emitStatus("resumed")
}
