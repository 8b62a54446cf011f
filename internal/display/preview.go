// Package display presents pipeline output: a scaled preview of annotated
// frames and a terminal dashboard.
package display

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

// Preview is a FrameSink that keeps the latest annotated frame scaled to fit
// the display area and tracks the display rate.
type Preview struct {
	width, height int
	path          string
	now           func() time.Time

	frames atomic.Uint64

	mu          sync.Mutex
	latest      *image.NRGBA
	latestSeq   uint64
	windowStart time.Time
	windowCount int
	fps         float64
	writeFailed bool
}

// NewPreview creates a preview of at most width x height. When path is set the
// latest frame is also written there as JPEG.
func NewPreview(width, height int, path string) *Preview {
	return &Preview{width: width, height: height, path: path, now: time.Now}
}

// AcceptFrame scales and stores img. Called from the inference stage.
func (p *Preview) AcceptFrame(seq uint64, img *image.RGBA) {
	scaled := imaging.Fit(img, p.width, p.height, imaging.Lanczos)
	p.frames.Add(1)

	p.mu.Lock()
	p.latest, p.latestSeq = scaled, seq
	now := p.now()
	if p.windowStart.IsZero() {
		p.windowStart = now
	}
	p.windowCount++
	if elapsed := now.Sub(p.windowStart); elapsed >= time.Second {
		p.fps = float64(p.windowCount) / elapsed.Seconds()
		p.windowStart, p.windowCount = now, 0
	}
	p.mu.Unlock()

	if p.path != "" {
		p.writeJPEG(scaled)
	}
}

// writeJPEG replaces the preview file atomically so viewers never see a partial image.
func (p *Preview) writeJPEG(img image.Image) {
	err := func() error {
		tmp, err := os.CreateTemp(filepath.Dir(p.path), ".preview-*.jpg")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())
		if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		return os.Rename(tmp.Name(), p.path)
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil && !p.writeFailed {
		log.Warn().Err(err).Str("path", p.path).Msg("writing preview frame")
	}
	p.writeFailed = err != nil
}

// Latest returns the most recent scaled frame and its sequence number, nil before the first frame.
func (p *Preview) Latest() (image.Image, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return nil, 0
	}
	return p.latest, p.latestSeq
}

// FPS is the display rate measured over the last full second.
func (p *Preview) FPS() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fps
}

// Frames counts frames displayed since creation.
func (p *Preview) Frames() uint64 { return p.frames.Load() }

// Reset clears the displayed frame and rate, as when a run stops.
func (p *Preview) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest, p.latestSeq = nil, 0
	p.windowStart, p.windowCount, p.fps = time.Time{}, 0, 0
}

// String describes the current frame for status lines.
func (p *Preview) String() string {
	img, seq := p.Latest()
	if img == nil {
		return "Video Feed"
	}
	b := img.Bounds()
	return fmt.Sprintf("frame %d (%dx%d)", seq, b.Dx(), b.Dy())
}
