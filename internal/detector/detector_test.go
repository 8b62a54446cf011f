package detector

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/andresmejia3/skuscan/internal/types"
	"github.com/andresmejia3/skuscan/internal/worker"
)

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestAnchorCount(t *testing.T) {
	tests := map[int]int{640: 8400, 320: 2100, 32: 21}
	for size, want := range tests {
		if got := anchorCount(size); got != want {
			t.Errorf("anchorCount(%d) = %d, want %d", size, got, want)
		}
	}
}

func TestDecodePredictions(t *testing.T) {
	const anchors, classes = 3, 2
	pred := make([]float32, (4+classes)*anchors)
	set := func(anchor int, cx, cy, w, h, s0, s1 float32) {
		for k, v := range []float32{cx, cy, w, h, s0, s1} {
			pred[k*anchors+anchor] = v
		}
	}
	set(0, 50, 50, 20, 10, 0.9, 0.1)   // class 0
	set(1, 10, 10, 4, 4, 0.1, 0.2)     // below threshold
	set(2, 100, 80, 10, 10, 0.3, 0.75) // class 1

	cands, err := decodePredictions(pred, classes, anchors, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(cands))
	}
	if cands[0].class != 0 || cands[0].box != [4]float32{40, 45, 60, 55} {
		t.Errorf("Unexpected first candidate %+v", cands[0])
	}
	if cands[1].class != 1 || math.Abs(float64(cands[1].score)-0.75) > 1e-6 {
		t.Errorf("Unexpected second candidate %+v", cands[1])
	}

	if _, err := decodePredictions(pred[:5], classes, anchors, 0.25); err == nil {
		t.Error("Expected length mismatch error")
	}
}

func TestNonMaxSuppression(t *testing.T) {
	cands := []candidate{
		{box: [4]float32{0, 0, 10, 10}, score: 0.6, class: 0},
		{box: [4]float32{1, 1, 11, 11}, score: 0.9, class: 0}, // overlaps the first, higher score
		{box: [4]float32{1, 1, 11, 11}, score: 0.5, class: 1}, // same spot, other class
		{box: [4]float32{50, 50, 60, 60}, score: 0.4, class: 0},
	}
	kept := nonMaxSuppression(cands, 0.45)
	if len(kept) != 3 {
		t.Fatalf("Expected 3 boxes, got %d: %+v", len(kept), kept)
	}
	if kept[0].score != 0.9 {
		t.Errorf("Highest score not kept first: %+v", kept[0])
	}
	for _, k := range kept {
		if k.score == 0.6 {
			t.Error("Overlapping lower score box survived")
		}
	}
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	if got := iou(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("iou(a,a) = %v", got)
	}
	if got := iou(a, [4]float32{20, 20, 30, 30}); got != 0 {
		t.Errorf("Disjoint boxes iou = %v", got)
	}
	if got := iou(a, [4]float32{5, 0, 15, 10}); math.Abs(got-1.0/3.0) > 1e-6 {
		t.Errorf("Half overlap iou = %v", got)
	}
}

func TestPrepareInputLetterbox(t *testing.T) {
	src := solidFrame(200, 100, color.RGBA{R: 255, A: 255})
	dst := make([]float32, 3*64*64)
	lb := prepareInput(src, 64, dst)

	if lb.padX != 0 || lb.padY != 16 || math.Abs(lb.scale-0.32) > 1e-9 {
		t.Fatalf("Unexpected letterbox %+v", lb)
	}
	plane := 64 * 64
	// centre pixel is the red frame
	if c := 32*64 + 32; dst[c] < 0.99 || dst[plane+c] > 0.01 {
		t.Errorf("Centre pixel not red: r=%v g=%v", dst[c], dst[plane+c])
	}
	// top row is padding
	if math.Abs(float64(dst[0])-114.0/255.0) > 1e-3 {
		t.Errorf("Padding not grey: %v", dst[0])
	}

	box := lb.toSource([4]float32{0, 16, 64, 48})
	if box != image.Rect(0, 0, 200, 100) {
		t.Errorf("Full model box maps to %v", box)
	}
	if box := lb.toSource([4]float32{-10, 0, 1000, 1000}); box != image.Rect(0, 0, 200, 100) {
		t.Errorf("Box not clamped: %v", box)
	}
}

func TestAnnotateCopiesFrame(t *testing.T) {
	src := solidFrame(80, 60, color.RGBA{A: 255})
	dets := types.Detections{{Label: "wraps", Confidence: 0.87, Box: image.Rect(20, 20, 60, 50)}}

	out := Annotate(src, dets)
	if out == src {
		t.Fatal("Annotate must not draw on the source frame")
	}
	if src.RGBAAt(20, 30) != (color.RGBA{A: 255}) {
		t.Error("Source frame modified at box edge")
	}
	if out.RGBAAt(20, 30) != labelColor("wraps") {
		t.Errorf("Box edge not drawn: %v", out.RGBAAt(20, 30))
	}
	if out.RGBAAt(40, 35) != (color.RGBA{A: 255}) {
		t.Error("Box interior should stay untouched")
	}
}

func TestAnnotateIgnoresBoxesOutsideFrame(t *testing.T) {
	src := solidFrame(10, 10, color.RGBA{A: 255})
	out := Annotate(src, types.Detections{{Label: "pudding", Box: image.Rect(100, 100, 120, 120)}})
	for i := range out.Pix {
		if out.Pix[i] != src.Pix[i] {
			t.Fatal("Off-frame box changed pixels")
		}
	}
}

func TestLabelColorIsStable(t *testing.T) {
	if labelColor("salads") != labelColor("salads") {
		t.Error("Colour not stable for the same label")
	}
}

type fakeProcessor struct {
	res    *worker.Result
	err    error
	sent   [][]byte
	closed bool
}

func (f *fakeProcessor) ProcessFrame(jpeg []byte) (*worker.Result, error) {
	f.sent = append(f.sent, jpeg)
	return f.res, f.err
}

func (f *fakeProcessor) Close() error {
	f.closed = true
	return nil
}

func TestPythonDetect(t *testing.T) {
	annotated, err := encodeJPEG(solidFrame(16, 8, color.RGBA{G: 255, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	fp := &fakeProcessor{res: &worker.Result{
		Detections: types.Detections{{Label: "yogurt", Confidence: 0.66, Box: image.Rect(1, 1, 5, 5)}},
		Annotated:  annotated,
	}}
	p := &Python{w: fp}

	dets, img, err := p.Detect(context.Background(), types.Frame{Seq: 3, Image: solidFrame(16, 8, color.RGBA{A: 255})})
	if err != nil {
		t.Fatal(err)
	}
	if len(fp.sent) != 1 || len(fp.sent[0]) < 2 || fp.sent[0][0] != 0xFF || fp.sent[0][1] != 0xD8 {
		t.Error("Frame was not sent as JPEG")
	}
	if len(dets) != 1 || dets[0].Label != "yogurt" {
		t.Errorf("Unexpected detections %+v", dets)
	}
	if img.Bounds().Dx() != 16 || img.RGBAAt(8, 4).G < 200 {
		t.Error("Annotated frame not decoded from the worker")
	}

	p.Close()
	if !fp.closed {
		t.Error("Worker not closed")
	}
}

func TestPythonDetectAnnotatesLocally(t *testing.T) {
	fp := &fakeProcessor{res: &worker.Result{
		Detections: types.Detections{{Label: "wraps", Confidence: 0.5, Box: image.Rect(2, 2, 12, 12)}},
	}}
	p := &Python{w: fp}
	_, img, err := p.Detect(context.Background(), types.Frame{Seq: 1, Image: solidFrame(16, 16, color.RGBA{A: 255})})
	if err != nil {
		t.Fatal(err)
	}
	if img.RGBAAt(2, 8) != labelColor("wraps") {
		t.Error("Boxes not drawn locally")
	}
}

func TestPythonDetectError(t *testing.T) {
	cause := errors.New("python worker error: CUDA out of memory")
	p := &Python{w: &fakeProcessor{err: cause}}
	_, _, err := p.Detect(context.Background(), types.Frame{Seq: 9, Image: solidFrame(4, 4, color.RGBA{A: 255})})
	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped worker error, got %v", err)
	}
	if p.Command() != nil {
		t.Error("Fake worker has no command")
	}
}

func TestNewONNXValidation(t *testing.T) {
	tests := []ONNXConfig{
		{},
		{ModelPath: "best.onnx"},
		{ModelPath: "best.onnx", Labels: []string{"wraps"}, InputSize: 100},
	}
	for _, cfg := range tests {
		if _, err := NewONNX(cfg); err == nil {
			t.Errorf("Expected error for %+v", cfg)
		}
	}
}
