// Package video decodes files into raw RGBA frames through an ffmpeg subprocess.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/andresmejia3/skuscan/internal/pipeline"
	"github.com/andresmejia3/skuscan/internal/utils"
	"github.com/rs/zerolog/log"
)

// Info describes a probed video.
type Info = utils.VideoInfo

// Probe returns dimensions, frame rate and a frame count estimate.
// The count falls back to counting packets when the container has no metadata.
func Probe(ctx context.Context, path string) (Info, error) {
	if err := checkFile(path); err != nil {
		return Info{}, err
	}
	info, err := utils.ProbeVideo(ctx, path)
	if err != nil {
		return Info{}, err
	}
	if info.Frames == 0 {
		info.Frames = utils.CountFrames(ctx, path)
	}
	return info, nil
}

func checkFile(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// FFmpegOpener opens captures backed by ffmpeg.
type FFmpegOpener struct {
	// Realtime paces decoding at the video's native frame rate.
	Realtime bool
}

// Open probes the file and starts the decoder. Every failure here is an open failure.
func (o FFmpegOpener) Open(ctx context.Context, path string) (pipeline.Capture, error) {
	if err := checkFile(path); err != nil {
		return nil, err
	}
	info, err := utils.ProbeVideo(ctx, path)
	if err != nil {
		return nil, err
	}

	// The decoder lives until Close, independent of the caller's ctx.
	decCtx, cancel := context.WithCancel(context.Background())
	cmd := utils.NewFFmpegRawDecoder(decCtx, path, o.Realtime)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	log.Debug().Str("video", path).Int("width", info.Width).Int("height", info.Height).
		Float64("fps", info.FPS).Int("frames", info.Frames).Msg("capture opened")
	return &Capture{
		info:   info,
		cmd:    cmd,
		stdout: stdout,
		cancel: cancel,
	}, nil
}

// Capture reads fixed-size RGBA frames from a running decoder.
type Capture struct {
	info   Info
	cmd    *utils.SafeCommand
	stdout io.ReadCloser
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Size returns the frame dimensions.
func (c *Capture) Size() (int, int) { return c.info.Width, c.info.Height }

// Info returns the probe result for the open video.
func (c *Capture) Info() Info { return c.info }

// Read fills dst with the next frame. io.EOF marks the end of the stream;
// a partial trailing frame is reported as io.ErrUnexpectedEOF.
func (c *Capture) Read(dst *image.RGBA) error {
	return readFrame(c.stdout, dst, c.info.Width, c.info.Height)
}

func readFrame(r io.Reader, dst *image.RGBA, w, h int) error {
	b := dst.Bounds()
	if b.Dx() != w || b.Dy() != h {
		return fmt.Errorf("frame buffer is %dx%d, video is %dx%d", b.Dx(), b.Dy(), w, h)
	}
	frameSize := w * h * 4
	if len(dst.Pix) < frameSize || dst.Stride != w*4 {
		return fmt.Errorf("frame buffer has unexpected layout")
	}
	_, err := io.ReadFull(r, dst.Pix[:frameSize])
	return err
}

// Close kills the decoder and reaps it. Safe to call more than once.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.stdout.Close()
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		// killed by our own cancel is the normal way out
		if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
			c.closeErr = err
		}
	})
	return c.closeErr
}
