// Package web serves the diagnostics dashboard: live session state,
// transcript ring and log tail over HTTP plus websocket push.
package web

import (
	_ "embed"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/Hmena01/travelbuddy/pkg/hub"
)

//go:embed static/index.html
var indexHTML []byte

const (
	maxLogEntries        = 500
	maxTranscriptEntries = 100
)

// SessionStatus is the dashboard's view of the running session.
type SessionStatus struct {
	Mode         string  `json:"mode"`
	Connected    bool    `json:"connected"`
	Conversation bool    `json:"conversation"`
	Paused       bool    `json:"paused"`
	Camera       bool    `json:"camera"`
	LevelDBFS    float64 `json:"level_dbfs"`
	StatusLine   string  `json:"status_line"`
	LastHeard    string  `json:"last_heard"`
	LastReply    string  `json:"last_reply"`
	Latency      string  `json:"latency"`
}

// LogEntry is one line of the dashboard log tail.
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, speech, status, error
	Message string `json:"message"`
}

// TranscriptEntry is one utterance in the conversation panel.
type TranscriptEntry struct {
	Time string `json:"time"`
	Role string `json:"role"` // user, assistant
	Text string `json:"text"`
}

// Server is the dashboard server.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	state   SessionStatus
	stateMu sync.RWMutex

	logs   []LogEntry
	logsMu sync.RWMutex

	transcript   []TranscriptEntry
	transcriptMu sync.RWMutex

	statusHub *hub.Hub
	logHub    *hub.Hub
	cameraHub *hub.Hub

	startHubs sync.Once

	// OnCommand handles control actions posted from the dashboard
	// ("listen", "stop", "toggle-conversation", "toggle-pause", "frame").
	OnCommand func(name string) (string, error)

	// OnCaptureFrame returns one JPEG still for /api/frame and the
	// preview stream.
	OnCaptureFrame func() ([]byte, error)
}

// NewServer creates a dashboard server listening on the given port.
func NewServer(port string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		port:       port,
		logger:     logger,
		logs:       make([]LogEntry, 0, maxLogEntries),
		transcript: make([]TranscriptEntry, 0, maxTranscriptEntries),
		statusHub:  hub.New("status", logger),
		logHub:     hub.New("logs", logger),
		cameraHub:  hub.New("camera", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "TravelBuddy Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.Send(indexHTML)
	})

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/transcript", s.handleGetTranscript)
	api.Get("/frame", s.handleFrame)
	api.Post("/command/:name", s.handleCommand)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

func (s *Server) runHubs() {
	s.startHubs.Do(func() {
		go s.statusHub.Run()
		go s.logHub.Run()
		go s.cameraHub.Run()
	})
}

// Start serves on the configured port. Blocks until Shutdown.
func (s *Server) Start() error {
	s.runHubs()
	s.logger.Info("dashboard listening", "url", "http://localhost:"+s.port)
	return s.app.Listen(":" + s.port)
}

// StartAsync serves in a goroutine, logging any serve error.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("dashboard server failed", "error", err)
		}
	}()
}

// Listener serves on a caller-provided listener. Used by tests to bind
// an ephemeral port.
func (s *Server) Listener(ln net.Listener) error {
	s.runHubs()
	return s.app.Listener(ln)
}

// UpdateState applies a mutation to the session view and broadcasts
// the result to status subscribers.
func (s *Server) UpdateState(update func(*SessionStatus)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state
	s.stateMu.Unlock()

	s.statusHub.BroadcastJSON(state)
}

// AddLog appends a log line and broadcasts it to log subscribers.
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogEntries {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

// AddTranscript appends an utterance to the conversation ring. The
// line also lands in the log tail so live subscribers see it.
func (s *Server) AddTranscript(role, text string) {
	entry := TranscriptEntry{
		Time: time.Now().Format("15:04:05"),
		Role: role,
		Text: text,
	}

	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, entry)
	if len(s.transcript) > maxTranscriptEntries {
		s.transcript = s.transcript[1:]
	}
	s.transcriptMu.Unlock()

	s.AddLog("speech", role+": "+text)
}

// SendCameraFrame pushes a JPEG still to preview subscribers.
func (s *Server) SendCameraFrame(jpegData []byte) {
	s.cameraHub.BroadcastBinary(jpegData)
}

// CameraViewers returns the number of connected preview subscribers.
func (s *Server) CameraViewers() int {
	return s.cameraHub.ClientCount()
}

// Shutdown stops the hubs and the HTTP server.
func (s *Server) Shutdown() error {
	s.statusHub.Stop()
	s.logHub.Stop()
	s.cameraHub.Stop()
	return s.app.Shutdown()
}
