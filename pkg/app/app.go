// Package app wires the travelbuddy components into a runnable client:
// gateway connection, session engine, clip playback, optional camera, and
// the diagnostics dashboard. It owns component lifecycle; the session
// logic itself lives in pkg/voice.
package app

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Hmena01/travelbuddy/internal/config"
	"github.com/Hmena01/travelbuddy/internal/log"
	"github.com/Hmena01/travelbuddy/pkg/audio"
	"github.com/Hmena01/travelbuddy/pkg/audioio"
	"github.com/Hmena01/travelbuddy/pkg/camera"
	"github.com/Hmena01/travelbuddy/pkg/conversation"
	"github.com/Hmena01/travelbuddy/pkg/voice"
	"github.com/Hmena01/travelbuddy/pkg/web"
)

// App is the travelbuddy application orchestrator. It manages all
// components and their lifecycle.
type App struct {
	cfg *config.Config

	client  *conversation.Client
	engine  *voice.Engine
	player  *audio.Player
	grabber *camera.Grabber
	web     *web.Server

	// Latency report dedup: the metrics callback fires on every mark.
	latencyMu   sync.Mutex
	lastLatency time.Duration

	levelMu   sync.Mutex
	lastLevel time.Time
}

// New creates the application with the given configuration.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &App{cfg: cfg}, nil
}

// Init builds and starts all components.
// Call this after New() and before Run().
func (a *App) Init() error {
	fmt.Println("🧳 TravelBuddy - Voice Conversation Client")
	fmt.Println("==========================================")

	// Gateway connection settings, also used for the banner.
	convCfg := conversation.DefaultConfig()
	convOpts := a.cfg.ConversationOptions()
	for _, opt := range convOpts {
		opt(convCfg)
	}

	fmt.Print("🔧 Preparing gateway client... ")
	client, err := conversation.NewClient(append(convOpts,
		conversation.WithLogger(log.L()))...)
	if err != nil {
		return fmt.Errorf("gateway client: %w", err)
	}
	a.client = client
	fmt.Println("✅")

	// Clip player for reply audio.
	a.player = audio.NewPlayer(log.L(), a.cfg.PlayerOptions()...)

	// Camera is optional; a missing device must not stop the session.
	if camCfg := a.cfg.CameraGrabConfig(); camCfg != nil {
		fmt.Print("📷 Opening camera... ")
		grabber, err := camera.Open(*camCfg, log.L())
		if err != nil {
			fmt.Printf("⚠️  %v\n", err)
		} else {
			a.grabber = grabber
			fmt.Println("✅")
		}
	}

	engineOpts := []voice.Option{
		voice.WithLogger(log.L()),
		voice.WithPlayer(a.player),
		voice.WithSource(func() (audioio.Source, error) {
			return audioio.NewSource(a.cfg.CaptureConfig(), log.L())
		}),
	}
	if a.grabber != nil {
		engineOpts = append(engineOpts, voice.WithFrames(a.grabber))
	}

	engine, err := voice.New(a.cfg.VoiceConfig(), a.client, engineOpts...)
	if err != nil {
		return fmt.Errorf("session engine: %w", err)
	}
	a.engine = engine

	if a.cfg.Dashboard.Enabled {
		a.web = web.NewServer(strconv.Itoa(a.cfg.Dashboard.Port), log.L())
		a.wireDashboard()
	}
	a.wireEngine()

	// A failed dial leaves the transport degraded, not the app dead.
	fmt.Printf("🔌 Connecting to %s... ", convCfg.URL())
	if err := a.engine.Start(context.Background()); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	if a.client.State() == conversation.StateConnected {
		fmt.Println("✅")
	} else {
		fmt.Println("⚠️  offline (commands still work; try 'reconnect')")
	}

	return nil
}

// Run starts the interaction loops and blocks until the context is
// cancelled or the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.web != nil {
		a.web.StartAsync()
		fmt.Printf("🌐 Dashboard: http://localhost:%d\n", a.cfg.Dashboard.Port)
		go a.pushStatus(ctx)
		if a.grabber != nil {
			go a.streamCameraToWeb(ctx)
		}
		a.web.AddLog("info", "travelbuddy started")
	}

	fmt.Println("\n🎤 Ready. Type a command and press Enter:")
	printHelp()

	go a.readCommands(ctx, cancel)

	<-ctx.Done()
	return nil
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	fmt.Println("\n👋 Goodbye!")

	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			log.Warn("engine close", "error", err)
		}
	}
	if a.grabber != nil {
		a.grabber.Close()
	}
	if a.web != nil {
		if err := a.web.Shutdown(); err != nil {
			log.Warn("dashboard close", "error", err)
		}
	}
}

// wireEngine connects the session callbacks to the terminal and the
// dashboard.
func (a *App) wireEngine() {
	a.engine.OnTranscript(func(text, source string) {
		fmt.Printf("👤 You: %s\n", text)
		if a.web != nil {
			a.web.UpdateState(func(s *web.SessionStatus) { s.LastHeard = text })
			a.web.AddTranscript("user", text)
		}
	})

	a.engine.OnResponse(func(text string) {
		fmt.Printf("🤖 Buddy: %s\n", text)
		if a.web != nil {
			a.web.UpdateState(func(s *web.SessionStatus) { s.LastReply = text })
			a.web.AddTranscript("assistant", text)
		}
	})

	a.engine.OnModeChange(func(m voice.Mode) {
		if a.web != nil {
			a.web.UpdateState(func(s *web.SessionStatus) { s.Mode = m.String() })
		}
	})

	a.engine.OnStatus(func(status string) {
		fmt.Printf("ℹ️  %s\n", status)
		if a.web != nil {
			a.web.UpdateState(func(s *web.SessionStatus) { s.StatusLine = status })
			a.web.AddLog("status", status)
		}
	})

	a.engine.OnLevel(func(l audioio.Level) {
		if a.web == nil {
			return
		}
		// Levels arrive per capture chunk; the dashboard needs a few a second.
		a.levelMu.Lock()
		throttled := time.Since(a.lastLevel) < 200*time.Millisecond
		if !throttled {
			a.lastLevel = time.Now()
		}
		a.levelMu.Unlock()
		if throttled {
			return
		}
		a.web.UpdateState(func(s *web.SessionStatus) { s.LevelDBFS = l.DBFS })
	})

	a.engine.Metrics().OnUpdate(func(tm voice.TurnMetrics) {
		if tm.FirstAudioLatency <= 0 {
			return
		}
		a.latencyMu.Lock()
		repeat := tm.FirstAudioLatency == a.lastLatency
		if !repeat {
			a.lastLatency = tm.FirstAudioLatency
		}
		a.latencyMu.Unlock()
		if repeat {
			return
		}
		fmt.Printf("⏱️  LATENCY: %dms (capture end → first audio)\n",
			tm.FirstAudioLatency.Milliseconds())
		if a.web != nil {
			a.web.UpdateState(func(s *web.SessionStatus) {
				s.Latency = fmt.Sprintf("%dms", tm.FirstAudioLatency.Milliseconds())
			})
		}
	})
}

// wireDashboard connects the dashboard controls to the session.
func (a *App) wireDashboard() {
	a.web.OnCommand = func(name string) (string, error) {
		return a.runCommand(name)
	}
	a.web.OnCaptureFrame = func() ([]byte, error) {
		if a.grabber == nil {
			return nil, fmt.Errorf("no camera configured")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.grabber.Grab(ctx)
	}
}

// pushStatus mirrors the engine state onto the dashboard once a second.
func (a *App) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := a.engine.Snapshot()
			a.web.UpdateState(func(s *web.SessionStatus) {
				s.Mode = st.Mode.String()
				s.Connected = st.Connected
				s.Conversation = st.Conversation
				s.Paused = st.Paused
				s.Camera = a.grabber != nil
			})
		}
	}
}

// streamCameraToWeb feeds the dashboard preview while someone watches.
func (a *App) streamCameraToWeb(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	lastErr := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.web.CameraViewers() == 0 {
				continue
			}
			frame, err := a.grabber.Grab(ctx)
			if err != nil {
				if time.Since(lastErr) > 5*time.Second {
					log.Warn("camera preview", "error", err)
					lastErr = time.Now()
				}
				continue
			}
			a.web.SendCameraFrame(frame)
		}
	}
}
