package detector

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/skuscan/internal/types"
	"github.com/andresmejia3/skuscan/internal/utils"
	"github.com/andresmejia3/skuscan/internal/worker"
	"github.com/rs/zerolog/log"
)

type frameProcessor interface {
	ProcessFrame(jpeg []byte) (*worker.Result, error)
	Close() error
}

// Python runs detection in a long-lived Python worker process.
type Python struct {
	w frameProcessor
}

// NewPython starts the worker. The process is killed if ctx is cancelled.
func NewPython(ctx context.Context, opts worker.Options) (*Python, error) {
	w, err := worker.NewDetectorWorker(ctx, 0, opts)
	if err != nil {
		return nil, err
	}
	return &Python{w: w}, nil
}

// Detect sends the frame to the worker. When the worker does not return an
// annotated image the boxes are drawn locally.
func (p *Python) Detect(_ context.Context, f types.Frame) (types.Detections, *image.RGBA, error) {
	data, err := encodeJPEG(f.Image)
	if err != nil {
		return nil, nil, err
	}
	res, err := p.w.ProcessFrame(data)
	if err != nil {
		return nil, nil, fmt.Errorf("frame %d: %w", f.Seq, err)
	}

	if len(res.Annotated) == 0 {
		return res.Detections, Annotate(f.Image, res.Detections), nil
	}
	annotated, err := decodeRGBA(res.Annotated)
	if err != nil {
		log.Warn().Err(err).Uint64("seq", f.Seq).Msg("worker returned an unreadable image, annotating locally")
		annotated = Annotate(f.Image, res.Detections)
	}
	return res.Detections, annotated, nil
}

// Close stops the worker process.
func (p *Python) Close() error {
	return p.w.Close()
}

// Command exposes the worker process for error reports. Read its Stderr only after Close.
func (p *Python) Command() *utils.SafeCommand {
	if w, ok := p.w.(*worker.DetectorWorker); ok {
		return w.Cmd
	}
	return nil
}
