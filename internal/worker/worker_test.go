package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"io"
	"math"
	"testing"
	"time"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

type fakeDetection struct {
	label string
	conf  float32
	box   [4]int32
}

func okPayload(dets []fakeDetection, img []byte) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0) // Status OK
	binary.Write(payload, binary.BigEndian, uint32(len(dets)))
	for _, d := range dets {
		binary.Write(payload, binary.BigEndian, uint16(len(d.label)))
		payload.WriteString(d.label)
		binary.Write(payload, binary.BigEndian, d.conf)
		binary.Write(payload, binary.BigEndian, d.box)
	}
	binary.Write(payload, binary.BigEndian, uint32(len(img)))
	payload.Write(img)
	return payload.Bytes()
}

func framed(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func TestProcessFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := framed(okPayload([]fakeDetection{
		{"wraps", 0.91, [4]int32{10, 10, 20, 20}},
		{"yogurt", 0.5, [4]int32{0, 5, 30, 40}},
	}, []byte{0xCA, 0xFE}))

	w := &DetectorWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	res, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Error("Length header does not match payload")
	}

	if len(res.Detections) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(res.Detections))
	}
	d := res.Detections[0]
	if d.Label != "wraps" || math.Abs(d.Confidence-0.91) > 1e-6 || d.Box != image.Rect(10, 10, 20, 20) {
		t.Errorf("Unexpected first detection %+v", d)
	}
	if res.Detections[1].Label != "yogurt" {
		t.Errorf("Expected yogurt, got %q", res.Detections[1].Label)
	}
	if !bytes.Equal(res.Annotated, []byte{0xCA, 0xFE}) {
		t.Errorf("Unexpected annotated image %X", res.Annotated)
	}
}

func TestProcessFrame_NoDetections(t *testing.T) {
	w := &DetectorWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(okPayload(nil, nil)),
	}
	res, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Detections) != 0 || res.Annotated != nil {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func TestProcessFrame_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR
	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &DetectorWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	truncated := okPayload([]fakeDetection{{"salads", 0.7, [4]int32{1, 2, 3, 4}}}, []byte{1, 2, 3})
	tests := map[string][]byte{
		"empty":               {},
		"unknown status":      {7},
		"no count":            {0},
		"huge count":          {0, 0xFF, 0xFF, 0xFF, 0xFF},
		"truncated":           truncated[:len(truncated)-2],
		"confidence above 1":  okPayload([]fakeDetection{{"wraps", 1.5, [4]int32{}}}, nil),
		"negative confidence": okPayload([]fakeDetection{{"wraps", -0.1, [4]int32{}}}, nil),
		"NaN confidence":      okPayload([]fakeDetection{{"wraps", float32(math.NaN()), [4]int32{}}}, nil),
	}
	for name, resp := range tests {
		if _, err := parseResponse(resp); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCrashedWorkerIsBroken(t *testing.T) {
	// Python died before replying: the pipe is at EOF
	w := &DetectorWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	if _, err := w.ProcessFrame([]byte("frame")); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected EOF, got %v", err)
	}
	if _, err := w.ProcessFrame([]byte("frame")); !errors.Is(err, ErrWorkerBroken) {
		t.Errorf("Expected ErrWorkerBroken on reuse, got %v", err)
	}
}

func TestReadTimeout(t *testing.T) {
	r, pw := io.Pipe()
	defer pw.Close()

	w := &DetectorWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: r,
		Timeout:  20 * time.Millisecond,
	}
	start := time.Now()
	_, err := w.ProcessFrame([]byte("frame"))
	if !errors.Is(err, ErrWorkerBroken) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Timeout not honoured")
	}
}
