package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/skuscan/internal/types"
)

// fakeCapture yields total frames (forever when total < 0), optionally failing at failAt.
type fakeCapture struct {
	w, h    int
	total   int
	failAt  int
	failErr error
	delay   time.Duration

	reads  atomic.Int64
	closes atomic.Int32
}

func (c *fakeCapture) Size() (int, int) { return c.w, c.h }

func (c *fakeCapture) Read(dst *image.RGBA) error {
	n := int(c.reads.Load()) + 1
	if c.failAt > 0 && n == c.failAt {
		return c.failErr
	}
	if c.total >= 0 && n > c.total {
		return io.EOF
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	dst.Pix[0] = byte(n)
	c.reads.Add(1)
	return nil
}

func (c *fakeCapture) Close() error {
	c.closes.Add(1)
	return nil
}

// fakeOpener hands out captures built by newCapture and counts opens.
type fakeOpener struct {
	mu         sync.Mutex
	err        error
	newCapture func() *fakeCapture
	opened     []*fakeCapture
}

func (o *fakeOpener) Open(_ context.Context, _ string) (Capture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	c := o.newCapture()
	o.opened = append(o.opened, c)
	return c, nil
}

func (o *fakeOpener) captures() []*fakeCapture {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeCapture(nil), o.opened...)
}

// recordingDetector records forwarded sequence numbers.
type recordingDetector struct {
	mu     sync.Mutex
	seqs   []uint64
	delay  time.Duration
	failOn map[uint64]bool
}

var errDetect = errors.New("model exploded")

func (d *recordingDetector) Detect(_ context.Context, f types.Frame) (types.Detections, *image.RGBA, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.seqs = append(d.seqs, f.Seq)
	fail := d.failOn[f.Seq]
	d.mu.Unlock()
	if fail {
		return nil, nil, errDetect
	}
	dets := types.Detections{{Label: "yogurt", Confidence: 0.9}}
	return dets, f.Image, nil
}

func (d *recordingDetector) forwarded() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.seqs...)
}

type countingSink struct {
	frames atomic.Int64
	snaps  atomic.Int64
}

func (s *countingSink) AcceptFrame(uint64, *image.RGBA) { s.frames.Add(1) }
func (s *countingSink) AcceptSnapshot(*types.Snapshot)  { s.snaps.Add(1) }

func testFrame(seq uint64) types.Frame {
	return types.Frame{Seq: seq, Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
