package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"
)

var (
	// ErrClosed is returned by Grab after the grabber has been closed.
	ErrClosed = errors.New("camera: grabber closed")

	// ErrNoFrame is returned when the device delivers no usable frame.
	ErrNoFrame = errors.New("camera: no frame from device")
)

// Grabber owns an open capture device and produces JPEG stills on
// demand. Safe for concurrent use; grabs are serialized.
type Grabber struct {
	logger *slog.Logger
	config Config

	mu    sync.Mutex
	cap   *gocv.VideoCapture
	frame gocv.Mat
}

// Open opens the configured capture device and applies the driver
// controls. The device stays open until Close.
func Open(cfg Config, logger *slog.Logger) (*Grabber, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %v", errs)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cap, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("camera: open device %d: %w", cfg.Device, err)
	}

	g := &Grabber{
		logger: logger.With("component", "camera"),
		config: cfg,
		cap:    cap,
		frame:  gocv.NewMat(),
	}
	g.applyControls()

	// Let auto exposure converge before the first real grab.
	for i := 0; i < cfg.WarmupFrames; i++ {
		if ok := g.cap.Read(&g.frame); !ok {
			break
		}
	}

	g.logger.Info("camera open",
		"device", cfg.Device,
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"quality", cfg.Quality)
	return g, nil
}

func (g *Grabber) applyControls() {
	g.cap.Set(gocv.VideoCaptureFrameWidth, float64(g.config.Width))
	g.cap.Set(gocv.VideoCaptureFrameHeight, float64(g.config.Height))
	g.cap.Set(gocv.VideoCaptureFPS, float64(g.config.Framerate))
	if g.config.Brightness != 0 {
		g.cap.Set(gocv.VideoCaptureBrightness, g.config.Brightness)
	}
	if g.config.Gain != 0 {
		g.cap.Set(gocv.VideoCaptureGain, g.config.Gain)
	}
	if g.config.Exposure != 0 {
		g.cap.Set(gocv.VideoCaptureExposure, g.config.Exposure)
	}
}

// Config returns the configuration the grabber was opened with.
func (g *Grabber) Config() Config {
	return g.config
}

// Grab reads one fresh frame and returns it encoded as JPEG. The read
// itself cannot be interrupted; ctx is checked before starting.
func (g *Grabber) Grab(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cap == nil {
		return nil, ErrClosed
	}

	// Drivers buffer a frame or two; skip one so the still reflects the
	// scene now, not when the previous grab ended.
	g.cap.Grab(1)

	if ok := g.cap.Read(&g.frame); !ok || g.frame.Empty() {
		return nil, fmt.Errorf("camera: read device %d: %w", g.config.Device, ErrNoFrame)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, g.frame,
		[]int{gocv.IMWriteJpegQuality, g.config.Quality})
	if err != nil {
		return nil, fmt.Errorf("camera: encode jpeg: %w", err)
	}
	defer buf.Close()

	// The buffer is native memory, freed on Close; hand back a copy.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	g.logger.Debug("frame grabbed", "bytes", len(data))
	return data, nil
}

// Close releases the device. Safe to call more than once.
func (g *Grabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cap == nil {
		return nil
	}

	err := g.cap.Close()
	g.cap = nil
	g.frame.Close()
	if err != nil {
		return fmt.Errorf("camera: close device %d: %w", g.config.Device, err)
	}
	return nil
}
