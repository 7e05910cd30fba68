// Package relay implements a development stand-in for the production
// conversation gateway. It speaks the same websocket protocol the
// client does (setup first, then realtime media chunks in; text,
// transcription, audio fragments and turn markers out) but answers
// with a scripted responder instead of a model, so sessions can be
// driven end to end on a laptop.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Hmena01/travelbuddy/pkg/wire"
)

// SessionInfo describes one connected client.
type SessionInfo struct {
	ID          string    `json:"id"`
	Connected   time.Time `json:"connected"`
	LastSeen    time.Time `json:"last_seen"`
	Language    string    `json:"language"`
	AudioChunks int       `json:"audio_chunks"`
	AudioBytes  int64     `json:"audio_bytes"`
	Images      int       `json:"images"`
	Turns       int       `json:"turns"`
}

// session is one live connection. The conn mutex serializes frame
// writes; a reply injected through the API can interleave with a
// scripted one, which mirrors how the production gateway behaves.
type session struct {
	mu   sync.Mutex
	info SessionInfo
	conn *websocket.Conn

	utterance Utterance
}

func (s *session) touch() {
	s.mu.Lock()
	s.info.LastSeen = time.Now()
	s.mu.Unlock()
}

func (s *session) snapshot() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// takeUtterance returns the accumulated utterance and starts a new one.
func (s *session) takeUtterance() Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.utterance
	s.utterance = Utterance{}
	return u
}

func (s *session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Server accepts client sessions and answers them with the responder.
type Server struct {
	logger    *slog.Logger
	responder Responder

	mu       sync.RWMutex
	sessions map[string]*session

	messagesReceived atomic.Uint64
	audioBytes       atomic.Uint64
	imagesReceived   atomic.Uint64
	pingsReceived    atomic.Uint64
	turnsCompleted   atomic.Uint64
	fragmentsSent    atomic.Uint64
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResponder replaces the default scripted responder.
func WithResponder(r Responder) Option {
	return func(s *Server) {
		if r != nil {
			s.responder = r
		}
	}
}

// NewServer creates a relay server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger:    slog.Default(),
		responder: DefaultResponder(),
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "relay")
	return s
}

// RegisterRoutes mounts the websocket endpoint at the root path, where
// the production gateway serves it.
func (s *Server) RegisterRoutes(app *fiber.App) {
	upgrade := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
	app.Get("/", upgrade, websocket.New(s.handleSession))
}

// RegisterAPIRoutes mounts inspection and injection endpoints.
func (s *Server) RegisterAPIRoutes(api fiber.Router) {
	api.Get("/sessions", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sessions": s.Sessions(),
			"count":    s.SessionCount(),
		})
	})

	api.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.Stats())
	})

	// Speak a line into a session without the client saying anything.
	api.Post("/sessions/:id/say", func(c *fiber.Ctx) error {
		var body struct {
			Text string `json:"text"`
		}
		if err := c.BodyParser(&body); err != nil || body.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
		}

		sess := s.lookup(c.Params("id"))
		if sess == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not connected"})
		}

		go s.reply(sess, Turn{
			Text:          body.Text,
			Audio:         speechFragments(2, sess.snapshot().Turns),
			FragmentDelay: 40 * time.Millisecond,
		})
		return c.JSON(fiber.Map{"status": "sent"})
	})

	// Inject an error frame into a session.
	api.Post("/sessions/:id/error", func(c *fiber.Ctx) error {
		var body struct {
			Message string `json:"message"`
		}
		if err := c.BodyParser(&body); err != nil || body.Message == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message is required"})
		}

		sess := s.lookup(c.Params("id"))
		if sess == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not connected"})
		}

		if err := s.sendEvent(sess, &wire.ServerEvent{Error: &body.Message}); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "sent"})
	})
}

// handleSession runs one client connection. The first frame must be
// the setup message; like the production gateway, anything readable is
// accepted and only the language is taken from it.
func (s *Server) handleSession(c *websocket.Conn) {
	_, first, err := c.ReadMessage()
	if err != nil {
		return
	}

	var setup wire.Setup
	if err := json.Unmarshal(first, &setup); err != nil {
		s.logger.Warn("unreadable setup frame, continuing with defaults", "error", err)
	}

	sess := &session{
		info: SessionInfo{
			ID:        uuid.NewString(),
			Connected: time.Now(),
			LastSeen:  time.Now(),
			Language:  setup.Setup.GenerationConfig.Language,
		},
		conn: c,
	}

	s.mu.Lock()
	s.sessions[sess.info.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.logger.Info("session connected",
		"session", sess.info.ID, "language", sess.info.Language, "total", count)

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.info.ID)
		count := len(s.sessions)
		s.mu.Unlock()
		s.logger.Info("session closed", "session", sess.info.ID, "remaining", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		s.messagesReceived.Add(1)
		sess.touch()
		s.handleFrame(sess, data)
	}
}

// handleFrame classifies one inbound frame. Malformed frames are
// logged and dropped; the session stays up.
func (s *Server) handleFrame(sess *session, data []byte) {
	var frame struct {
		RealtimeInput *wire.RealtimeInput `json:"realtime_input"`
		Type          string              `json:"type"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warn("malformed frame", "session", sess.info.ID, "error", err)
		return
	}

	switch {
	case frame.RealtimeInput != nil:
		for i := range frame.RealtimeInput.MediaChunks {
			s.handleChunk(sess, &frame.RealtimeInput.MediaChunks[i])
		}

	case frame.Type == wire.TypePing:
		s.pingsReceived.Add(1)
		s.logger.Debug("ping", "session", sess.info.ID)

	case frame.Type == wire.TypeEndOfStream:
		utterance := sess.takeUtterance()
		s.logger.Info("utterance complete",
			"session", sess.info.ID,
			"chunks", utterance.AudioChunks,
			"duration", utterance.Duration())
		s.reply(sess, s.responder(sess.snapshot(), utterance))

	default:
		s.logger.Debug("ignoring frame", "session", sess.info.ID)
	}
}

func (s *Server) handleChunk(sess *session, chunk *wire.MediaChunk) {
	switch chunk.MimeType {
	case wire.MimePCM:
		pcm, err := chunk.Decode()
		if err != nil {
			s.logger.Warn("undecodable audio chunk", "session", sess.info.ID, "error", err)
			return
		}
		s.audioBytes.Add(uint64(len(pcm)))
		sess.mu.Lock()
		sess.info.AudioChunks++
		sess.info.AudioBytes += int64(len(pcm))
		sess.utterance.AudioChunks++
		sess.utterance.AudioBytes += len(pcm)
		sess.mu.Unlock()

	case wire.MimeJPEG:
		still, err := chunk.Decode()
		if err != nil {
			s.logger.Warn("undecodable image chunk", "session", sess.info.ID, "error", err)
			return
		}
		s.imagesReceived.Add(1)
		sess.mu.Lock()
		sess.info.Images++
		sess.utterance.Images++
		sess.mu.Unlock()
		s.logger.Debug("image received", "session", sess.info.ID, "bytes", len(still))

	default:
		s.logger.Warn("unknown media type", "session", sess.info.ID, "mime_type", chunk.MimeType)
	}
}

// reply streams one scripted turn to the client.
func (s *Server) reply(sess *session, turn Turn) {
	if turn.UserTranscript != "" {
		s.sendEvent(sess, &wire.ServerEvent{Transcription: &wire.Transcription{
			Text:   turn.UserTranscript,
			Source: wire.SourceUserInput,
			Status: wire.StatusOK,
		}})
	}

	if turn.Text != "" {
		s.sendEvent(sess, &wire.ServerEvent{Text: &turn.Text})
	}

	if len(turn.Audio) > 0 {
		s.sendEvent(sess, &wire.ServerEvent{AudioStart: true})
		for _, fragment := range turn.Audio {
			if turn.FragmentDelay > 0 {
				time.Sleep(turn.FragmentDelay)
			}
			encoded := wire.EncodeAudio(fragment)
			if err := s.sendEvent(sess, &wire.ServerEvent{Audio: &encoded}); err != nil {
				return
			}
			s.fragmentsSent.Add(1)
		}
	}

	if !turn.SkipTurnComplete {
		if err := s.sendEvent(sess, &wire.ServerEvent{TurnComplete: true}); err != nil {
			return
		}
		s.turnsCompleted.Add(1)
		sess.mu.Lock()
		sess.info.Turns++
		sess.mu.Unlock()
	}
}

func (s *Server) sendEvent(sess *session, ev *wire.ServerEvent) error {
	data, err := wire.Marshal(ev)
	if err != nil {
		return err
	}
	if err := sess.write(data); err != nil {
		s.logger.Debug("write failed", "session", sess.info.ID, "error", err)
		return err
	}
	return nil
}

func (s *Server) lookup(id string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Sessions returns a snapshot of every connected session.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.snapshot())
	}
	return infos
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats holds relay counters.
type Stats struct {
	SessionCount     int    `json:"session_count"`
	MessagesReceived uint64 `json:"messages_received"`
	AudioBytes       uint64 `json:"audio_bytes"`
	ImagesReceived   uint64 `json:"images_received"`
	PingsReceived    uint64 `json:"pings_received"`
	TurnsCompleted   uint64 `json:"turns_completed"`
	FragmentsSent    uint64 `json:"fragments_sent"`
}

// Stats returns a snapshot of the relay counters.
func (s *Server) Stats() Stats {
	return Stats{
		SessionCount:     s.SessionCount(),
		MessagesReceived: s.messagesReceived.Load(),
		AudioBytes:       s.audioBytes.Load(),
		ImagesReceived:   s.imagesReceived.Load(),
		PingsReceived:    s.pingsReceived.Load(),
		TurnsCompleted:   s.turnsCompleted.Load(),
		FragmentsSent:    s.fragmentsSent.Load(),
	}
}
