// Audio Check - exercise the capture and playback path without a gateway
// Records a few seconds from the microphone, reports level statistics,
// saves the take as WAV, and plays it back through the clip player.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hmena01/travelbuddy/internal/log"
	"github.com/Hmena01/travelbuddy/pkg/audio"
	"github.com/Hmena01/travelbuddy/pkg/audioio"
	"github.com/Hmena01/travelbuddy/pkg/media"
)

var (
	seconds  = flag.Int("seconds", 5, "Recording length in seconds")
	backend  = flag.String("backend", "auto", "Audio backend: auto, alsa, coreaudio, mock")
	device   = flag.String("device", "", "Capture device identifier")
	outFile  = flag.String("out", "/tmp/travelbuddy_check.wav", "WAV output path")
	playback = flag.Bool("play", true, "Play the recording back after capture")
	quietDB  = flag.Float64("quiet", -40, "dBFS threshold below which a chunk counts as silence")
)

func main() {
	flag.Parse()
	log.Init("warn")

	fmt.Println("🎤 TravelBuddy Audio Check")
	fmt.Println("==========================")
	fmt.Printf("Backend: %s, %d seconds at %d Hz\n\n", *backend, *seconds, audioio.CaptureRate)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	cfg := audioio.DefaultCaptureConfig()
	cfg.Backend = audioio.Backend(*backend)
	cfg.Device = *device

	src, err := audioio.NewSource(cfg, log.L())
	if err != nil {
		fmt.Printf("❌ Failed to open source: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		fmt.Printf("❌ Failed to start capture: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Capturing from %q... speak now!\n\n", src.Name())

	var (
		samples     []int16
		chunks      int
		quietChunks int
		peak        int16
		sumDBFS     float64
	)

	deadline := time.After(time.Duration(*seconds) * time.Second)
	stats := time.NewTicker(time.Second)
	defer stats.Stop()

capture:
	for {
		select {
		case <-sigChan:
			fmt.Println("\n🛑 Interrupted")
			break capture
		case <-deadline:
			break capture
		case <-stats.C:
			fmt.Printf("\r📊 %4.1fs | chunks: %d | level: %5.1f dBFS   ",
				float64(len(samples))/float64(audioio.CaptureRate),
				chunks, sumDBFS/float64(max(chunks, 1)))
		case chunk, ok := <-src.Stream():
			if !ok {
				break capture
			}
			level := audioio.MeasureLevel(chunk.Samples)
			chunks++
			sumDBFS += level.DBFS
			if level.Quiet(*quietDB) {
				quietChunks++
			}
			if level.Peak > peak {
				peak = level.Peak
			}
			samples = append(samples, chunk.Samples...)
		}
	}

	src.Stop()

	recorded := float64(len(samples)) / float64(audioio.CaptureRate)
	fmt.Printf("\n\n📼 Recorded %d samples (%.2f seconds)\n", len(samples), recorded)
	fmt.Printf("   Chunks:     %d (%d below %.0f dBFS)\n", chunks, quietChunks, *quietDB)
	fmt.Printf("   Peak:       %d\n", peak)
	if chunks > 0 {
		fmt.Printf("   Avg level:  %.1f dBFS\n", sumDBFS/float64(chunks))
	}
	if chunks > 0 && quietChunks == chunks {
		fmt.Println("⚠️  Every chunk was silent. Check the input device or OS permissions.")
	}

	if len(samples) == 0 {
		fmt.Println("❌ No audio captured")
		os.Exit(1)
	}

	pcm := (&audioio.AudioChunk{Samples: samples}).Bytes()
	wav := media.WrapPCM(pcm, audioio.CaptureRate, 1, 16)
	if err := os.WriteFile(*outFile, wav, 0o644); err != nil {
		fmt.Printf("❌ Failed to write WAV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Saved to %s (%d bytes)\n", *outFile, len(wav))

	if !*playback {
		return
	}

	fmt.Print("\n🔊 Playing back... ")
	player := audio.NewPlayer(log.L())
	if err := player.Play(context.Background(), wav); err != nil {
		fmt.Printf("⚠️  %v\n", err)
		fmt.Printf("   You can play it manually: afplay %s\n", *outFile)
		return
	}
	fmt.Println("✅ Done")
}
