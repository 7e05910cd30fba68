package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/Hmena01/travelbuddy/pkg/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// startRelay serves a relay on an ephemeral port and returns it with
// its address.
func startRelay(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()

	srv := NewServer(append([]Option{WithLogger(discardLogger())}, opts...)...)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	srv.RegisterRoutes(app)
	srv.RegisterAPIRoutes(app.Group("/api"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	addr := ln.Addr().String()
	waitFor(t, 2*time.Second, func() bool {
		resp, err := http.Get("http://" + addr + "/api/stats")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
	return srv, addr
}

// dialSession connects and performs the setup exchange.
func dialSession(t *testing.T, addr, language string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	writeFrame(t, conn, wire.NewSetup(language))
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := wire.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) *wire.ServerEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	ev, err := wire.ParseServerEvent(data)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	return ev
}

// readUntilTurnComplete drains one full reply, returning the event
// kinds seen and any text fragments.
func readUntilTurnComplete(t *testing.T, conn *websocket.Conn) ([]wire.EventKind, []string) {
	t.Helper()
	var kinds []wire.EventKind
	var texts []string
	for i := 0; i < 32; i++ {
		ev := readEvent(t, conn)
		kinds = append(kinds, ev.Kind())
		if ev.Kind() == wire.EventText {
			texts = append(texts, *ev.Text)
		}
		if ev.Kind() == wire.EventTurnComplete {
			return kinds, texts
		}
	}
	t.Fatal("no turn_complete within 32 events")
	return nil, nil
}

func TestSessionLifecycle(t *testing.T) {
	srv, addr := startRelay(t)

	conn := dialSession(t, addr, "de-DE")
	waitFor(t, 2*time.Second, func() bool { return srv.SessionCount() == 1 })

	sessions := srv.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Language != "de-DE" {
		t.Fatalf("language = %q, want de-DE", sessions[0].Language)
	}

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return srv.SessionCount() == 0 })
}

func TestScriptedReplySequence(t *testing.T) {
	frag1 := speechLikePCM(120, ReplySampleRate, 0)
	frag2 := speechLikePCM(120, ReplySampleRate, 1)
	script := ScriptResponder(Turn{
		UserTranscript: "hello there",
		Text:           "Hallo!",
		Audio:          [][]byte{frag1, frag2},
	})

	_, addr := startRelay(t, WithResponder(script))
	conn := dialSession(t, addr, "en-US")

	writeFrame(t, conn, wire.NewAudioChunk(make([]byte, 3200)))
	writeFrame(t, conn, wire.NewEndOfStream())

	ev := readEvent(t, conn)
	if ev.Kind() != wire.EventTranscription {
		t.Fatalf("event 1 = %s, want transcription", ev.Kind())
	}
	if ev.Transcription.Text != "hello there" || ev.Transcription.Source != wire.SourceUserInput {
		t.Fatalf("unexpected transcription: %+v", ev.Transcription)
	}

	ev = readEvent(t, conn)
	if ev.Kind() != wire.EventText || *ev.Text != "Hallo!" {
		t.Fatalf("event 2 = %s, want text Hallo!", ev.Kind())
	}

	if ev = readEvent(t, conn); ev.Kind() != wire.EventAudioStart {
		t.Fatalf("event 3 = %s, want audio_start", ev.Kind())
	}

	for i, want := range [][]byte{frag1, frag2} {
		ev = readEvent(t, conn)
		if ev.Kind() != wire.EventAudio {
			t.Fatalf("audio event %d = %s", i, ev.Kind())
		}
		got, err := ev.DecodeAudio()
		if err != nil {
			t.Fatalf("decode audio %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("audio fragment %d differs", i)
		}
	}

	if ev = readEvent(t, conn); ev.Kind() != wire.EventTurnComplete {
		t.Fatalf("final event = %s, want turn_complete", ev.Kind())
	}
}

func TestUtteranceAccounting(t *testing.T) {
	heard := make(chan Utterance, 1)
	responder := func(info SessionInfo, u Utterance) Turn {
		heard <- u
		return Turn{Text: "ok"}
	}

	srv, addr := startRelay(t, WithResponder(responder))
	conn := dialSession(t, addr, "en-US")

	writeFrame(t, conn, wire.NewAudioChunk(make([]byte, 320)))
	writeFrame(t, conn, wire.NewAudioChunk(make([]byte, 640)))
	writeFrame(t, conn, wire.NewAudioChunk(make([]byte, 960)))
	writeFrame(t, conn, wire.NewImageChunk([]byte{0xFF, 0xD8, 0x01}))
	writeFrame(t, conn, wire.NewEndOfStream())

	readUntilTurnComplete(t, conn)

	select {
	case u := <-heard:
		if u.AudioChunks != 3 || u.AudioBytes != 1920 || u.Images != 1 {
			t.Fatalf("unexpected utterance: %+v", u)
		}
		if u.Duration() != 60*time.Millisecond {
			t.Fatalf("duration = %s, want 60ms", u.Duration())
		}
	default:
		t.Fatal("responder never saw the utterance")
	}

	stats := srv.Stats()
	if stats.AudioBytes != 1920 || stats.ImagesReceived != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	sessions := srv.Sessions()
	if sessions[0].AudioChunks != 3 || sessions[0].Images != 1 {
		t.Fatalf("unexpected session counters: %+v", sessions[0])
	}
}

func TestOpenTurnOmitsCompletion(t *testing.T) {
	script := ScriptResponder(Turn{Text: "still talking", SkipTurnComplete: true})
	srv, addr := startRelay(t, WithResponder(script))
	conn := dialSession(t, addr, "en-US")

	writeFrame(t, conn, wire.NewEndOfStream())

	ev := readEvent(t, conn)
	if ev.Kind() != wire.EventText {
		t.Fatalf("event = %s, want text", ev.Kind())
	}

	conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no further events on an open turn")
	}
	if srv.Stats().TurnsCompleted != 0 {
		t.Fatal("open turn must not count as completed")
	}
}

func TestMalformedFramesKeepSession(t *testing.T) {
	srv, addr := startRelay(t)
	conn := dialSession(t, addr, "en-US")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	writeFrame(t, conn, wire.NewAudioChunk(make([]byte, 3200)))
	writeFrame(t, conn, wire.NewEndOfStream())

	readUntilTurnComplete(t, conn)
	if srv.SessionCount() != 1 {
		t.Fatal("session should survive malformed frames")
	}
}

func TestDefaultResponderCycles(t *testing.T) {
	srv, addr := startRelay(t)
	conn := dialSession(t, addr, "en-US")

	writeFrame(t, conn, wire.NewEndOfStream())
	_, texts1 := readUntilTurnComplete(t, conn)

	writeFrame(t, conn, wire.NewEndOfStream())
	_, texts2 := readUntilTurnComplete(t, conn)

	if len(texts1) != 1 || len(texts2) != 1 {
		t.Fatalf("texts per turn = %d, %d; want 1 each", len(texts1), len(texts2))
	}
	if texts1[0] == texts2[0] {
		t.Fatal("consecutive turns should cycle phrases")
	}

	if srv.Stats().TurnsCompleted != 2 {
		t.Fatalf("turns completed = %d, want 2", srv.Stats().TurnsCompleted)
	}
	if srv.Sessions()[0].Turns != 2 {
		t.Fatalf("session turns = %d, want 2", srv.Sessions()[0].Turns)
	}
}

func TestPingCounted(t *testing.T) {
	srv, addr := startRelay(t)
	conn := dialSession(t, addr, "en-US")

	writeFrame(t, conn, wire.NewPing())

	waitFor(t, 2*time.Second, func() bool { return srv.Stats().PingsReceived == 1 })
}

func TestInspectionAndInjection(t *testing.T) {
	srv, addr := startRelay(t)
	conn := dialSession(t, addr, "en-US")
	waitFor(t, 2*time.Second, func() bool { return srv.SessionCount() == 1 })
	id := srv.Sessions()[0].ID

	t.Run("list sessions", func(t *testing.T) {
		resp, err := http.Get("http://" + addr + "/api/sessions")
		if err != nil {
			t.Fatalf("get sessions: %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			Sessions []SessionInfo `json:"sessions"`
			Count    int           `json:"count"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Count != 1 || len(body.Sessions) != 1 || body.Sessions[0].ID != id {
			t.Fatalf("unexpected listing: %+v", body)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, err := http.Post("http://"+addr+"/api/sessions/bogus/error",
			"application/json", strings.NewReader(`{"message":"boom"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("inject error", func(t *testing.T) {
		resp, err := http.Post("http://"+addr+"/api/sessions/"+id+"/error",
			"application/json", strings.NewReader(`{"message":"boom"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		ev := readEvent(t, conn)
		if ev.Kind() != wire.EventError || ev.ErrorMessage() != "boom" {
			t.Fatalf("event = %s %q, want error boom", ev.Kind(), ev.ErrorMessage())
		}
	})

	t.Run("say requires text", func(t *testing.T) {
		resp, err := http.Post("http://"+addr+"/api/sessions/"+id+"/say",
			"application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("say speaks a turn", func(t *testing.T) {
		resp, err := http.Post("http://"+addr+"/api/sessions/"+id+"/say",
			"application/json", strings.NewReader(`{"text":"hello from the relay"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		kinds, texts := readUntilTurnComplete(t, conn)
		if len(texts) != 1 || texts[0] != "hello from the relay" {
			t.Fatalf("texts = %v", texts)
		}
		sawAudio := false
		for _, k := range kinds {
			if k == wire.EventAudio {
				sawAudio = true
			}
		}
		if !sawAudio {
			t.Fatal("spoken turn should carry audio fragments")
		}
	})
}
