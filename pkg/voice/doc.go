// Package voice runs the live conversation session: microphone capture
// with silence-based cutoff, batched upload over the gateway, turn
// reassembly from streamed reply fragments, playback, and the mode
// machine that ties them together.
//
// # Usage
//
// Build an engine from a gateway and whatever devices the host has:
//
//	import (
//	    "github.com/Hmena01/travelbuddy/pkg/audio"
//	    "github.com/Hmena01/travelbuddy/pkg/audioio"
//	    "github.com/Hmena01/travelbuddy/pkg/conversation"
//	    "github.com/Hmena01/travelbuddy/pkg/voice"
//	)
//
//	client, err := conversation.NewClient(conversation.WithPort(9083))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := voice.New(voice.DefaultConfig().WithConversation(true), client,
//	    voice.WithSource(func() (audioio.Source, error) {
//	        return audioio.NewSource(audioio.DefaultCaptureConfig(), nil)
//	    }),
//	    voice.WithPlayer(audio.NewPlayer(nil)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine.OnTranscript(func(text, source string) {
//	    fmt.Printf("you: %s\n", text)
//	})
//	engine.OnResponse(func(text string) {
//	    fmt.Printf("ai: %s\n", text)
//	})
//
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	// One turn. In conversation mode the engine re-arms itself after
//	// each reply until paused or closed.
//	if err := engine.StartListening(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Capture stops on its own after three seconds of silence (or the ten
// second cap) and the reply plays when the server finishes its turn.
//
// # Latency Metrics
//
// The engine tracks per-turn latency from the end of capture:
//
//	m := engine.Metrics().Current()
//	fmt.Println(m.FormatLatency())
//
// A gateway that cannot be reached leaves the engine in a degraded,
// offline session: capture still runs locally, uploads are dropped, and
// Connect may be retried at any time.
package voice
