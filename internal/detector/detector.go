// Package detector implements the object detection backends used by the
// inference stage: a Python worker process and an in-process ONNX model.
package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"

	"github.com/andresmejia3/skuscan/internal/types"
	"github.com/disintegration/imaging"
)

// Backend is a detector that owns external resources.
type Backend interface {
	Detect(ctx context.Context, f types.Frame) (types.Detections, *image.RGBA, error)
	io.Closer
}

const jpegQuality = 90

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRGBA(data []byte) (*image.RGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding annotated frame: %w", err)
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
