package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/skuscan/internal/types"
	"github.com/andresmejia3/skuscan/internal/utils" // Using the SafeCommand wrapper
	"github.com/rs/zerolog/log"
)

// ErrWorkerBroken is returned once a worker has timed out or lost its pipes.
// The stream may be mid-message so it cannot be reused.
var ErrWorkerBroken = errors.New("detector worker is broken")

// Options configure how the detector process is launched.
type Options struct {
	Python      string        // interpreter, default python3
	Script      string        // default python/detector.py
	Model       string        // weights passed as --model
	Confidence  float64       // passed as --conf when > 0
	ReadTimeout time.Duration // per-frame response deadline, 0 disables
}

type DetectorWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	Timeout  time.Duration

	mu     sync.Mutex
	broken bool
}

// Result is one decoded worker response.
type Result struct {
	Detections types.Detections
	Annotated  []byte // JPEG, may be empty
}

func NewDetectorWorker(ctx context.Context, id int, opts Options) (*DetectorWorker, error) {
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.Script == "" {
		opts.Script = "python/detector.py"
	}
	args := []string{"-u", opts.Script}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Confidence > 0 {
		args = append(args, "--conf", fmt.Sprintf("%.3f", opts.Confidence))
	}
	py := utils.NewSafeCommand(ctx, opts.Python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()
	log.Debug().Int("worker", id).Str("model", opts.Model).Int("pid", py.Process.Pid).Msg("detector worker started")

	return &DetectorWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		Timeout:  opts.ReadTimeout,
	}, nil
}

// Communicate sends one length-prefixed message and reads one length-prefixed reply.
func (w *DetectorWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return nil, ErrWorkerBroken
	}

	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		w.broken = true
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		w.broken = true
		return nil, err
	}

	if w.Timeout <= 0 {
		resp, err := readMessage(w.DataPipe)
		if err != nil {
			w.broken = true
		}
		return resp, err
	}

	type reply struct {
		body []byte
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		body, err := readMessage(w.DataPipe)
		ch <- reply{body, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			w.broken = true
		}
		return r.body, r.err
	case <-time.After(w.Timeout):
		w.broken = true
		return nil, fmt.Errorf("worker %d: no response after %v: %w", w.ID, w.Timeout, ErrWorkerBroken)
	}
}

func readMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}
	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(r, respBody)
	return respBody, err
}

// ProcessFrame sends a JPEG frame and decodes the detections and annotated frame.
func (w *DetectorWorker) ProcessFrame(jpegData []byte) (*Result, error) {
	resp, err := w.Communicate(jpegData)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// parseResponse decodes:
//
//	[Status:1] then, on 0: [Count:u32] { [LabelLen:u16] [Label] [Conf:f32] [Box:4xi32] } [ImgLen:u32] [Img]
//	           on 1: [MsgLen:u32] [Msg]
func parseResponse(resp []byte) (*Result, error) {
	reader := bytes.NewReader(resp)
	status, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response")
	}

	if status == 1 {
		var msgLen uint32
		if err := binary.Read(reader, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(reader, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	if status != 0 {
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("reading detection count: %w", err)
	}
	// each detection is at least 22 bytes; reject counts the payload cannot hold
	if int64(count)*22 > int64(reader.Len()) {
		return nil, fmt.Errorf("detection count %d exceeds payload", count)
	}

	res := &Result{Detections: make(types.Detections, 0, count)}
	for i := uint32(0); i < count; i++ {
		var labelLen uint16
		if err := binary.Read(reader, binary.BigEndian, &labelLen); err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		label := make([]byte, labelLen)
		if _, err := io.ReadFull(reader, label); err != nil {
			return nil, fmt.Errorf("detection %d label: %w", i, err)
		}
		var conf float32
		if err := binary.Read(reader, binary.BigEndian, &conf); err != nil {
			return nil, fmt.Errorf("detection %d confidence: %w", i, err)
		}
		// also rejects NaN
		if !(conf >= 0 && conf <= 1) {
			return nil, fmt.Errorf("detection %d confidence %v outside [0,1]", i, conf)
		}
		var box [4]int32
		if err := binary.Read(reader, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("detection %d box: %w", i, err)
		}
		res.Detections = append(res.Detections, types.Detection{
			Label:      string(label),
			Confidence: float64(conf),
			Box:        image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])),
		})
	}

	var imgLen uint32
	if err := binary.Read(reader, binary.BigEndian, &imgLen); err != nil {
		return nil, fmt.Errorf("reading image length: %w", err)
	}
	if int64(imgLen) > int64(reader.Len()) {
		return nil, fmt.Errorf("image length %d exceeds payload", imgLen)
	}
	if imgLen > 0 {
		res.Annotated = make([]byte, imgLen)
		io.ReadFull(reader, res.Annotated)
	}
	return res, nil
}

// Close shuts the worker down. Closing stdin lets the script exit its read loop.
func (w *DetectorWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	if err := w.Cmd.Wait(); err != nil {
		return fmt.Errorf("worker %d exited: %w", w.ID, err)
	}
	return nil
}
