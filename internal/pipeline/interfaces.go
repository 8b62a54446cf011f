package pipeline

import (
	"context"
	"image"

	"github.com/andresmejia3/skuscan/internal/types"
)

// Capture is an open, sequential video resource yielding frames of fixed dimensions.
type Capture interface {
	// Size returns the frame dimensions for the lifetime of the capture.
	Size() (width, height int)
	// Read fills dst with the next frame. It returns io.EOF at end of stream.
	Read(dst *image.RGBA) error
	// Close releases the resource. Safe to call more than once.
	Close() error
}

// Opener opens a capture for a video path.
type Opener interface {
	Open(ctx context.Context, path string) (Capture, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, path string) (Capture, error)

func (f OpenerFunc) Open(ctx context.Context, path string) (Capture, error) { return f(ctx, path) }

// Detector maps a frame to detections and an annotated copy of the frame.
// Implementations must not modify frame.Image.
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) (types.Detections, *image.RGBA, error)
}

// FrameSink accepts annotated frames for display.
type FrameSink interface {
	AcceptFrame(seq uint64, img *image.RGBA)
}

// SnapshotSink accepts each newly published snapshot.
type SnapshotSink interface {
	AcceptSnapshot(snap *types.Snapshot)
}

type discardSink struct{}

func (discardSink) AcceptFrame(uint64, *image.RGBA) {}
func (discardSink) AcceptSnapshot(*types.Snapshot)  {}
