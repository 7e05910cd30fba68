package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/Hmena01/travelbuddy/pkg/hub"
)

// handleStatus returns the current session view.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return c.JSON(s.state)
}

// handleGetLogs returns the buffered log tail.
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

// handleGetTranscript returns the buffered conversation.
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	s.transcriptMu.RLock()
	defer s.transcriptMu.RUnlock()
	return c.JSON(s.transcript)
}

// handleFrame captures and returns one JPEG still.
func (s *Server) handleFrame(c *fiber.Ctx) error {
	if s.OnCaptureFrame == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no camera attached",
		})
	}

	frame, err := s.OnCaptureFrame()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(frame)
}

// handleCommand routes a dashboard control action to the session.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	name := c.Params("name")

	if s.OnCommand == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "command handler not configured",
		})
	}

	result, err := s.OnCommand(name)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.AddLog("info", "dashboard: "+name+": "+result)
	return c.JSON(fiber.Map{
		"command": name,
		"result":  result,
	})
}

// handleStatusWS streams session state. The current snapshot is
// written before the client joins the hub, so the socket starts from a
// known state; a broadcast landing in that window is lost, which the
// next update makes up for.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	s.stateMu.RLock()
	state := s.state
	s.stateMu.RUnlock()
	if err := c.WriteJSON(state); err != nil {
		c.Close()
		return
	}

	client := hub.NewClient(s.statusHub, c)
	if client == nil {
		c.Close()
		return
	}
	client.Run()
}

// handleLogsWS streams log lines, replaying the buffer first.
func (s *Server) handleLogsWS(c *websocket.Conn) {
	s.logsMu.RLock()
	entries := make([]LogEntry, len(s.logs))
	copy(entries, s.logs)
	s.logsMu.RUnlock()

	for _, entry := range entries {
		if err := c.WriteJSON(entry); err != nil {
			c.Close()
			return
		}
	}

	client := hub.NewClient(s.logHub, c)
	if client == nil {
		c.Close()
		return
	}
	client.Run()
}

// handleCameraWS streams JPEG preview frames.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	client := hub.NewClient(s.cameraHub, c)
	if client == nil {
		c.Close()
		return
	}
	client.Run()
}
