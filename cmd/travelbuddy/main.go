// TravelBuddy - voice conversation client
// Streams microphone audio to the conversation gateway over WebSocket and
// plays the spoken replies, with an optional camera and web dashboard.
//
// Usage:
//
//	go run ./cmd/travelbuddy/
//	go run ./cmd/travelbuddy/ -host 192.168.1.20 -port 9083 -conversation
//	go run ./cmd/travelbuddy/ -emulator -camera hd
//
// Configuration is read from travelbuddy.yaml (or -config) and
// TRAVELBUDDY_* environment variables; flags win over both.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hmena01/travelbuddy/internal/config"
	"github.com/Hmena01/travelbuddy/internal/log"
	"github.com/Hmena01/travelbuddy/pkg/app"
)

func main() {
	cfg := parseFlags()
	log.Init(cfg.LogLevel)

	a, err := app.New(cfg)
	if err != nil {
		fmt.Printf("❌ Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := a.Init(); err != nil {
		fmt.Printf("❌ Initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		fmt.Printf("❌ Runtime error: %v\n", err)
	}
}

// parseFlags loads the configuration and applies command line overrides.
func parseFlags() *config.Config {
	configPath := flag.String("config", "", "Path to config file (default: travelbuddy.yaml in . or ~/.config/travelbuddy)")
	host := flag.String("host", "", "Gateway host (overrides config)")
	port := flag.Int("port", 0, "Gateway port (overrides config)")
	language := flag.String("language", "", "Language tag sent in the setup frame")
	emulator := flag.Bool("emulator", false, "Reach the gateway through the Android emulator loopback alias")
	conversationMode := flag.Bool("conversation", false, "Start with continuous turn-taking enabled")
	cameraPreset := flag.String("camera", "", "Enable the camera with a preset: default, low, hd, night")
	dashboardPort := flag.Int("dashboard-port", 0, "Dashboard port (overrides config)")
	noDashboard := flag.Bool("no-dashboard", false, "Disable the web dashboard")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Config error: %v\n", err)
		os.Exit(1)
	}

	if *host != "" {
		cfg.Gateway.Host = *host
	}
	if *port != 0 {
		cfg.Gateway.Port = *port
	}
	if *language != "" {
		cfg.Gateway.Language = *language
	}
	if *emulator {
		cfg.Gateway.Emulator = true
	}
	if *conversationMode {
		cfg.Session.Conversation = true
	}
	if *cameraPreset != "" {
		cfg.Camera.Enabled = true
		cfg.Camera.Preset = *cameraPreset
	}
	if *dashboardPort != 0 {
		cfg.Dashboard.Port = *dashboardPort
	}
	if *noDashboard {
		cfg.Dashboard.Enabled = false
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}
