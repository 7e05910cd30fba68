// relay-sim: local stand-in for the conversation gateway
// Accepts travelbuddy client sessions on the production port and answers
// with scripted spoken turns, so the client can be exercised end to end
// without the real service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Hmena01/travelbuddy/internal/log"
	"github.com/Hmena01/travelbuddy/pkg/relay"
)

var (
	version = "1.0.0"
	port    = flag.Int("port", 9083, "WebSocket server port")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	// Override from environment
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", port)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	fmt.Println()
	fmt.Println("🛰️  TravelBuddy Relay Sim v" + version)
	fmt.Println("    Scripted conversation gateway")
	fmt.Println()

	app := fiber.New(fiber.Config{
		AppName:               "relay-sim",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if *debug {
		app.Use(logger.New())
	}

	srv := relay.NewServer(relay.WithLogger(log.L()))

	srv.RegisterRoutes(app)

	api := app.Group("/api")
	srv.RegisterAPIRoutes(api)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"version":  version,
			"sessions": srv.SessionCount(),
		})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		stats := srv.Stats()
		return c.SendString(fmt.Sprintf(`# HELP relay_sessions Connected session count
# TYPE relay_sessions gauge
relay_sessions %d

# HELP relay_messages_received Total frames received
# TYPE relay_messages_received counter
relay_messages_received %d

# HELP relay_audio_bytes Total audio bytes received
# TYPE relay_audio_bytes counter
relay_audio_bytes %d

# HELP relay_turns_completed Total reply turns completed
# TYPE relay_turns_completed counter
relay_turns_completed %d

# HELP relay_fragments_sent Total audio fragments sent
# TYPE relay_fragments_sent counter
relay_fragments_sent %d
`, stats.SessionCount, stats.MessagesReceived, stats.AudioBytes,
			stats.TurnsCompleted, stats.FragmentsSent))
	})

	go func() {
		addr := fmt.Sprintf(":%d", *port)
		log.Info("relay listening", "addr", addr)
		fmt.Printf("🚀 Listening on %s\n", addr)
		fmt.Printf("   WebSocket: ws://localhost:%d/\n", *port)
		fmt.Printf("   Health:    http://localhost:%d/health\n", *port)
		fmt.Printf("   Sessions:  http://localhost:%d/api/sessions\n", *port)
		fmt.Println()

		if err := app.Listen(addr); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n👋 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Warn("shutdown error", "error", err)
	}

	fmt.Println("✅ Goodbye!")
}
