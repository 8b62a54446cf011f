package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/andresmejia3/skuscan/internal/types"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultInputSize  = 640
	DefaultConfidence = 0.25
	DefaultIoU        = 0.45
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime loads the onnxruntime shared library. Only the first call has an effect.
func InitRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// DestroyRuntime releases the onnxruntime environment.
func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		log.Warn().Err(err).Msg("destroying onnxruntime environment")
	}
}

// ONNXConfig describes a YOLOv8-style model exported with a single "images"
// input of shape [1,3,S,S] and an "output0" of shape [1,4+classes,anchors].
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	InputSize   int
	Labels      []string
	Confidence  float64
	IoU         float64
}

// ONNX runs a detection model in process.
type ONNX struct {
	cfg     ONNXConfig
	anchors int

	mu      sync.Mutex // the session and its tensors are single-use at a time
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNX initialises the runtime and creates a session for the model.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx model path is required")
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.New("onnx backend needs the model's class labels")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = DefaultConfidence
	}
	if cfg.IoU <= 0 {
		cfg.IoU = DefaultIoU
	}
	if cfg.InputSize%32 != 0 {
		return nil, fmt.Errorf("input size %d is not a multiple of 32", cfg.InputSize)
	}
	if err := InitRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialising onnxruntime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(runtime.NumCPU())

	anchors := anchorCount(cfg.InputSize)
	size := int64(cfg.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(cfg.Labels)), int64(anchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	log.Info().Str("model", cfg.ModelPath).Int("input", cfg.InputSize).Int("classes", len(cfg.Labels)).Msg("onnx model loaded")
	return &ONNX{cfg: cfg, anchors: anchors, session: session, input: inputTensor, output: outputTensor}, nil
}

// Detect runs the model on one frame and returns the detections in frame coordinates.
func (o *ONNX) Detect(_ context.Context, f types.Frame) (types.Detections, *image.RGBA, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	lb := prepareInput(f.Image, o.cfg.InputSize, o.input.GetData())
	if err := o.session.Run(); err != nil {
		return nil, nil, fmt.Errorf("model inference: %w", err)
	}

	cands, err := decodePredictions(o.output.GetData(), len(o.cfg.Labels), o.anchors, float32(o.cfg.Confidence))
	if err != nil {
		return nil, nil, err
	}
	kept := nonMaxSuppression(cands, o.cfg.IoU)

	dets := make(types.Detections, 0, len(kept))
	for _, c := range kept {
		dets = append(dets, types.Detection{
			Label:      o.label(c.class),
			Confidence: float64(c.score),
			Box:        lb.toSource(c.box),
		})
	}
	return dets, Annotate(f.Image, dets), nil
}

func (o *ONNX) label(class int) string {
	if class < len(o.cfg.Labels) {
		return o.cfg.Labels[class]
	}
	return fmt.Sprintf("class%d", class)
}

// Close destroys the session and its tensors.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	if o.input != nil {
		o.input.Destroy()
		o.input = nil
	}
	if o.output != nil {
		o.output.Destroy()
		o.output = nil
	}
	return nil
}

// anchorCount is the number of YOLOv8 grid cells over strides 8, 16 and 32.
func anchorCount(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		g := size / stride
		n += g * g
	}
	return n
}

// letterbox maps model-space coordinates back onto the source frame.
type letterbox struct {
	scale      float64
	padX, padY int
	srcW, srcH int
}

func (l letterbox) toSource(r [4]float32) image.Rectangle {
	conv := func(v float32, pad, limit int) int {
		x := int(math.Round((float64(v) - float64(pad)) / l.scale))
		return max(0, min(limit, x))
	}
	return image.Rect(
		conv(r[0], l.padX, l.srcW), conv(r[1], l.padY, l.srcH),
		conv(r[2], l.padX, l.srcW), conv(r[3], l.padY, l.srcH),
	)
}

var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// prepareInput letterboxes img into a size x size canvas and writes it to dst as planar RGB in [0,1].
func prepareInput(img image.Image, size int, dst []float32) letterbox {
	b := img.Bounds()
	fitted := imaging.Fit(img, size, size, imaging.Linear)
	fb := fitted.Bounds()

	lb := letterbox{
		scale: float64(fb.Dx()) / float64(b.Dx()),
		padX:  (size - fb.Dx()) / 2,
		padY:  (size - fb.Dy()) / 2,
		srcW:  b.Dx(),
		srcH:  b.Dy(),
	}
	canvas := imaging.New(size, size, letterboxFill)
	canvas = imaging.Paste(canvas, fitted, image.Pt(lb.padX, lb.padY))

	channelSize := size * size
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		offset := y * size
		for x := 0; x < size; x++ {
			i := offset + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255.0
			dst[channelSize+i] = float32(p[1]) / 255.0
			dst[channelSize*2+i] = float32(p[2]) / 255.0
		}
	}
	return lb
}

type candidate struct {
	box   [4]float32 // x1, y1, x2, y2 in model space
	score float32
	class int
}

// decodePredictions reads a [4+classes, anchors] tensor (cx, cy, w, h, class scores...).
func decodePredictions(pred []float32, classes, anchors int, threshold float32) ([]candidate, error) {
	if want := (4 + classes) * anchors; len(pred) != want {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(pred), want)
	}

	out := make([]candidate, 0, 64)
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, threshold
		for c := 0; c < classes; c++ {
			if s := pred[(4+c)*anchors+i]; s >= bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 {
			continue
		}
		cx, cy := pred[i], pred[anchors+i]
		w, h := pred[2*anchors+i], pred[3*anchors+i]
		out = append(out, candidate{
			box:   [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			score: bestScore,
			class: best,
		})
	}
	return out, nil
}

// nonMaxSuppression keeps the highest scoring box of each overlapping group, per class.
func nonMaxSuppression(cands []candidate, iouThreshold float64) []candidate {
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	kept := make([]candidate, 0, len(cands))
	suppressed := make([]bool, len(cands))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		for j := i + 1; j < len(cands); j++ {
			if !suppressed[j] && cands[j].class == cands[i].class && iou(cands[i].box, cands[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]float32) float64 {
	ix1, iy1 := max(a[0], b[0]), max(a[1], b[1])
	ix2, iy2 := min(a[2], b[2]), min(a[3], b[3])
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := float64((ix2 - ix1) * (iy2 - iy1))
	areaA := float64((a[2] - a[0]) * (a[3] - a[1]))
	areaB := float64((b[2] - b[0]) * (b[3] - b[1]))
	return inter / (areaA + areaB - inter)
}
