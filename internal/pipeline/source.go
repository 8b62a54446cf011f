package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"time"

	"github.com/andresmejia3/skuscan/internal/types"
	"github.com/rs/zerolog/log"
)

// FrameSource reads frames sequentially from a capture and offers them to the queue.
// It owns the capture: the resource is released whenever Run returns.
type FrameSource struct {
	path     string
	capture  Capture
	queue    *FrameQueue
	control  *ControlState
	stats    *counters
	idle     time.Duration
	seq      uint64
	released bool
}

// OpenSource opens the video resource. On failure nothing is started and a
// *SourceOpenError is returned.
func OpenSource(ctx context.Context, path string, opener Opener, queue *FrameQueue, control *ControlState, idle time.Duration) (*FrameSource, error) {
	c, err := opener.Open(ctx, path)
	if err != nil {
		return nil, &SourceOpenError{Path: path, Err: err}
	}
	return &FrameSource{
		path:    path,
		capture: c,
		queue:   queue,
		control: control,
		stats:   &counters{},
		idle:    idle,
	}, nil
}

// Run is the ingestion loop. It returns on stop, end of stream or read failure,
// always closing the queue and releasing the capture.
func (s *FrameSource) Run() error {
	defer s.queue.Close()
	defer s.release()

	w, h := s.capture.Size()
	var spare *image.RGBA

	for {
		if s.control.StopRequested() {
			log.Debug().Str("video", s.path).Uint64("seq", s.seq).Msg("source stopping on request")
			return nil
		}
		if s.control.Paused() {
			sleepCtx(s.control.Context(), s.idle)
			continue
		}

		img := spare
		spare = nil
		if img == nil {
			img = image.NewRGBA(image.Rect(0, 0, w, h))
		}

		if err := s.capture.Read(img); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Info().Str("video", s.path).Uint64("frames", s.seq).Msg("end of stream")
				return nil
			}
			if s.control.StopRequested() {
				return nil
			}
			readErr := &SourceReadError{Seq: s.seq, Err: err}
			log.Warn().Err(readErr).Str("video", s.path).Msg("read failed, ending stream")
			return nil
		}

		s.seq++
		s.stats.read.Add(1)
		frame := types.Frame{Seq: s.seq, Image: img, Timestamp: time.Now()}
		if !s.queue.TryEnqueue(frame) {
			// Dropped frames never left our hands, so the buffer can be reused
			s.stats.dropped.Add(1)
			spare = img
		}
	}
}

// Frames returns how many frames were read and how many the queue dropped.
func (s *FrameSource) Frames() (read, dropped uint64) {
	return s.stats.read.Load(), s.stats.dropped.Load()
}

func (s *FrameSource) release() {
	if s.released {
		return
	}
	s.released = true
	if err := s.capture.Close(); err != nil {
		log.Warn().Err(err).Str("video", s.path).Msg("failed to release capture")
	}
}

// sleepCtx waits for d or until ctx is done. It reports whether the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
