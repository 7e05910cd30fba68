package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Hmena01/travelbuddy/pkg/conversation"
)

// runCommand executes one session command. The same table serves the
// terminal and the dashboard buttons.
func (a *App) runCommand(name string) (string, error) {
	switch name {
	case "listen", "l":
		// The capture source lives until the silence cutoff or a stop
		// command, so it gets a background context.
		if err := a.engine.StartListening(context.Background()); err != nil {
			return "", err
		}
		return "listening", nil

	case "stop", "s":
		if err := a.engine.StopListening(); err != nil {
			return "", err
		}
		return "stopped", nil

	case "conversation", "toggle-conversation", "c":
		if a.engine.ToggleConversationMode() {
			return "conversation mode on", nil
		}
		return "conversation mode off", nil

	case "pause", "toggle-pause", "p":
		if a.engine.TogglePause() {
			return "paused", nil
		}
		return "resumed", nil

	case "frame", "f":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.engine.SendFrame(ctx); err != nil {
			return "", err
		}
		return "frame sent", nil

	case "reconnect", "r":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.engine.Connect(ctx); err != nil {
			return "", err
		}
		if a.client.State() == conversation.StateConnected {
			return "connected", nil
		}
		return "still offline", nil

	case "status":
		return a.statusLine(), nil

	default:
		return "", fmt.Errorf("unknown command %q", name)
	}
}

func (a *App) statusLine() string {
	st := a.engine.Snapshot()
	line := fmt.Sprintf("mode=%s connected=%v conversation=%v paused=%v",
		st.Mode, st.Connected, st.Conversation, st.Paused)
	if avg := a.engine.Metrics().Average(); avg.FirstAudioLatency > 0 {
		line += fmt.Sprintf(" avg_latency=%dms", avg.FirstAudioLatency.Milliseconds())
	}
	return line
}

// readCommands drives the session from stdin until quit or cancellation.
func (a *App) readCommands(ctx context.Context, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch line {
		case "":
			continue
		case "q", "quit", "exit":
			quit()
			return
		case "h", "help":
			printHelp()
		default:
			result, err := a.runCommand(line)
			if err != nil {
				fmt.Printf("⚠️  %v\n", err)
			} else {
				fmt.Printf("✅ %s\n", result)
			}
		}
	}
}

func printHelp() {
	fmt.Println("   listen (l)        start the microphone")
	fmt.Println("   stop (s)          stop the microphone early")
	fmt.Println("   conversation (c)  toggle continuous turn-taking")
	fmt.Println("   pause (p)         toggle pause")
	fmt.Println("   frame (f)         send a camera still")
	fmt.Println("   reconnect (r)     redial the gateway")
	fmt.Println("   status            show session state")
	fmt.Println("   help (h)          show this help")
	fmt.Println("   quit (q)          exit")
}
