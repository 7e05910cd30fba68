package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient builds a client pointed at an httptest server, tuned for
// fast test runs.
func newTestClient(t *testing.T, srvURL string, opts ...Option) *Client {
	t.Helper()
	u, err := url.Parse(srvURL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	base := []Option{
		WithHost(host),
		WithPort(port),
		WithConnectAttempts(1),
		WithProbeTimeout(50 * time.Millisecond),
		WithLogger(discardLogger()),
	}
	client, err := NewClient(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %v", client.State())
	}
	if got := client.config.URL(); got != "ws://localhost:9083/" {
		t.Errorf("unexpected default URL %q", got)
	}
	if client.config.ConnectAttempts != 3 {
		t.Errorf("expected 3 connect attempts, got %d", client.config.ConnectAttempts)
	}
	if client.config.ConnectBackoff != 2*time.Second {
		t.Errorf("expected 2s backoff, got %v", client.config.ConnectBackoff)
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	if _, err := NewClient(WithPort(0)); err == nil {
		t.Error("expected error for port 0")
	}
	if _, err := NewClient(WithHost("")); err == nil {
		t.Error("expected error for empty host")
	}
	if _, err := NewClient(WithConnectAttempts(0)); err == nil {
		t.Error("expected error for zero connect attempts")
	}
}

func TestConfig_URL(t *testing.T) {
	tests := []struct {
		host string
		port int
		path string
		want string
	}{
		{"localhost", 9083, "/", "ws://localhost:9083/"},
		{"10.0.2.2", 9083, "", "ws://10.0.2.2:9083/"},
		{"gateway.local", 8080, "ws", "ws://gateway.local:8080/ws"},
		{"gateway.local", 8080, "/ws", "ws://gateway.local:8080/ws"},
	}
	for _, tt := range tests {
		c := &Config{Host: tt.host, Port: tt.port, Path: tt.path}
		if got := c.URL(); got != tt.want {
			t.Errorf("URL(%s,%d,%q) = %q, want %q", tt.host, tt.port, tt.path, got, tt.want)
		}
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDegraded, "degraded"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestClient_SendBeforeConnect(t *testing.T) {
	client, err := NewClient(WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.SendAudio([]byte{0, 1}); !IsNotConnected(err) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := client.SendEndOfStream(); !IsNotConnected(err) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_ConnectRetriesThenDegrades(t *testing.T) {
	// A listener that is immediately closed guarantees refused connections.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	client, err := NewClient(
		WithHost("127.0.0.1"),
		WithPort(addr.Port),
		WithConnectAttempts(2),
		WithConnectBackoff(10*time.Millisecond),
		WithDialTimeout(200*time.Millisecond),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	var states []ConnectionState
	client.OnStateChange(func(s ConnectionState) {
		states = append(states, s)
	})

	start := time.Now()
	err = client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	if !IsRetryable(err) {
		t.Errorf("expected retryable connection error, got %v", err)
	}
	if client.State() != StateDegraded {
		t.Errorf("expected degraded state, got %v", client.State())
	}
	// One backoff between the two attempts.
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("retries finished too fast: %v", elapsed)
	}

	if err := client.SendAudio([]byte{0, 1}); !IsDegraded(err) {
		t.Errorf("expected ErrDegraded, got %v", err)
	}

	if len(states) < 2 || states[len(states)-1] != StateDegraded {
		t.Errorf("unexpected state sequence %v", states)
	}
}

func TestClient_ConnectProbeCatchesEarlyClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Accept the upgrade, then drop the connection inside the
		// probe window.
		conn.Close()
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithProbeTimeout(200*time.Millisecond))
	defer client.Close()

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error from early close")
	}
	if client.State() != StateDegraded {
		t.Errorf("expected degraded state, got %v", client.State())
	}
}

func TestClient_ConnectAndStream(t *testing.T) {
	type received struct {
		kind string
		data []byte
	}
	serverGot := make(chan received, 8)
	scriptDone := make(chan struct{})

	responseAudio := []byte{0x10, 0x20, 0x30, 0x40}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// First frame on every connection must be the setup.
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		serverGot <- received{"first", data}

		// Next data frame is the client's audio batch; the probe ping
		// that follows the setup is skipped.
		for {
			_, data, err = conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"ping"`) {
				continue
			}
			break
		}
		serverGot <- received{"second", data}

		// Scripted response turn, including one suppressed entry.
		script := []string{
			`{"transcription":{"text":"where is the station","source":"user_input","status":"ok"}}`,
			`{"transcription":{"text":"<Not recognizable>","source":"user_input"}}`,
			`{"audio_start":true}`,
			fmt.Sprintf(`{"audio":%q}`, base64.StdEncoding.EncodeToString(responseAudio)),
			`{"text":"The station is two blocks north."}`,
			`{"turn_complete":true}`,
		}
		for _, frame := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		close(scriptDone)

		// Drain until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithLanguage("de-DE"))
	defer client.Close()

	var transcripts []Transcription
	var texts []string
	var audio [][]byte
	audioStart := make(chan struct{}, 1)
	turnDone := make(chan struct{}, 1)

	client.OnTranscription(func(tr Transcription) { transcripts = append(transcripts, tr) })
	client.OnText(func(s string) { texts = append(texts, s) })
	client.OnAudio(func(b []byte) { audio = append(audio, b) })
	client.OnAudioStart(func() { audioStart <- struct{}{} })
	client.OnTurnComplete(func() { turnDone <- struct{}{} })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("expected connected state")
	}

	pcm := []byte{1, 2, 3, 4, 5, 6}
	if err := client.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	// The gateway must see setup first, audio second.
	first := <-serverGot
	var setup map[string]json.RawMessage
	if err := json.Unmarshal(first.data, &setup); err != nil {
		t.Fatalf("unmarshal first frame: %v", err)
	}
	if _, ok := setup["setup"]; !ok {
		t.Fatalf("first frame is not setup: %s", first.data)
	}
	if !strings.Contains(string(first.data), "de-DE") {
		t.Errorf("setup frame missing language: %s", first.data)
	}

	second := <-serverGot
	if !strings.Contains(string(second.data), "realtime_input") ||
		!strings.Contains(string(second.data), "audio/pcm") {
		t.Errorf("second frame is not an audio chunk: %s", second.data)
	}
	if !strings.Contains(string(second.data), base64.StdEncoding.EncodeToString(pcm)) {
		t.Errorf("audio chunk does not carry the PCM payload: %s", second.data)
	}

	waitSignal(t, scriptDone, "server script")
	waitSignal(t, audioStart, "audio start")
	waitSignal(t, turnDone, "turn complete")

	if len(transcripts) != 1 || transcripts[0].Text != "where is the station" {
		t.Errorf("unexpected transcripts %v", transcripts)
	}
	if transcripts[0].Source != "user_input" {
		t.Errorf("unexpected transcript source %q", transcripts[0].Source)
	}
	if len(texts) != 1 || texts[0] != "The station is two blocks north." {
		t.Errorf("unexpected texts %v", texts)
	}
	if len(audio) != 1 || string(audio[0]) != string(responseAudio) {
		t.Errorf("unexpected audio %v", audio)
	}

	m := client.Metrics()
	if m.TurnsCompleted != 1 {
		t.Errorf("expected 1 completed turn, got %d", m.TurnsCompleted)
	}
	if m.AudioBytesSent != int64(len(pcm)) {
		t.Errorf("expected %d audio bytes sent, got %d", len(pcm), m.AudioBytesSent)
	}
	if m.AudioBytesReceived != int64(len(responseAudio)) {
		t.Errorf("expected %d audio bytes received, got %d", len(responseAudio), m.AudioBytesReceived)
	}
	if m.MessagesSent < 2 {
		t.Errorf("expected at least 2 messages sent, got %d", m.MessagesSent)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestClient_ServerErrorKeepsConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil { // setup
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"model overloaded"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"legacy failure"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	defer client.Close()

	errs := make(chan string, 2)
	client.OnServerError(func(msg string) { errs <- msg })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	want := []string{"model overloaded", "legacy failure"}
	for _, w := range want {
		select {
		case got := <-errs:
			if got != w {
				t.Errorf("expected error %q, got %q", w, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for server error %q", w)
		}
	}

	// Error events are data, not transport failures.
	if !client.IsConnected() {
		t.Error("expected client to remain connected after server errors")
	}
	if m := client.Metrics(); m.Errors != 2 {
		t.Errorf("expected 2 errors counted, got %d", m.Errors)
	}
}

func TestClient_MalformedFrameIgnored(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil { // setup
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"still here"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	defer client.Close()

	texts := make(chan string, 1)
	client.OnText(func(s string) { texts <- s })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case got := <-texts:
		if got != "still here" {
			t.Errorf("unexpected text %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for text after malformed frame")
	}
	if !client.IsConnected() {
		t.Error("expected connection to survive a malformed frame")
	}
}

func TestClient_DisconnectCallback(t *testing.T) {
	dropConn := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil { // setup
			conn.Close()
			return
		}
		<-dropConn
		conn.Close()
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	defer client.Close()

	disconnected := make(chan struct{})
	var disconnectErr error
	client.OnDisconnect(func(err error) {
		disconnectErr = err
		close(disconnected)
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	close(dropConn)
	waitSignal(t, disconnected, "disconnect callback")

	if disconnectErr == nil {
		t.Error("expected a disconnect error")
	}
	if client.State() != StateDisconnected {
		t.Errorf("expected disconnected state, got %v", client.State())
	}

	// No automatic reconnect: sends now fail until Connect is called again.
	if err := client.SendAudio([]byte{1}); !IsNotConnected(err) {
		t.Errorf("expected ErrNotConnected after drop, got %v", err)
	}
}

func TestClient_ConnectContextCanceled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	client, err := NewClient(
		WithHost("127.0.0.1"),
		WithPort(addr.Port),
		WithConnectAttempts(3),
		WithConnectBackoff(time.Minute),
		WithDialTimeout(100*time.Millisecond),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = client.Connect(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
	if client.State() != StateDisconnected {
		t.Errorf("expected disconnected after cancel, got %v", client.State())
	}
}

func TestMock_ImplementsGateway(t *testing.T) {
	m := NewMock()

	if err := m.SendAudio([]byte{1}); !IsNotConnected(err) {
		t.Errorf("expected ErrNotConnected before connect, got %v", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !m.IsConnected() {
		t.Fatal("expected connected mock")
	}

	if err := m.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := m.SendEndOfStream(); err != nil {
		t.Fatalf("SendEndOfStream: %v", err)
	}
	if len(m.AudioSent) != 1 || m.EndOfStreamCount != 1 {
		t.Errorf("unexpected captures: %d audio, %d end-of-stream",
			len(m.AudioSent), m.EndOfStreamCount)
	}

	var gotAudio []byte
	var gotTurn bool
	m.OnAudio(func(b []byte) { gotAudio = b })
	m.OnTurnComplete(func() { gotTurn = true })
	m.SimulateAudio([]byte{9, 9})
	m.SimulateTurnComplete()
	if len(gotAudio) != 2 || !gotTurn {
		t.Error("simulated events did not reach callbacks")
	}

	var droppedErr error
	m.OnDisconnect(func(err error) { droppedErr = err })
	m.SimulateDisconnect(ErrConnectionClosed)
	if !errors.Is(droppedErr, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", droppedErr)
	}
	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected mock, got %v", m.State())
	}

	m.Reset()
	if len(m.AudioSent) != 0 || m.EndOfStreamCount != 0 {
		t.Error("Reset did not clear captures")
	}
}

func TestConnectionError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewConnectionError("read failed", cause, true)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if !IsRetryable(err) {
		t.Error("expected retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	want := "conversation: connection error: read failed: socket closed"
	if err.Error() != want {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestServerError_Message(t *testing.T) {
	err := &ServerError{Message: "quota exceeded"}
	if got := err.Error(); got != "conversation: server error: quota exceeded" {
		t.Errorf("unexpected message %q", got)
	}
}
