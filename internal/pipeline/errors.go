package pipeline

import "fmt"

// SourceOpenError is returned when the video resource cannot be opened.
// It is fatal to a run attempt: no frames are produced and no stage is started.
type SourceOpenError struct {
	Path string
	Err  error
}

func (e *SourceOpenError) Error() string {
	return fmt.Sprintf("open video source %q: %v", e.Path, e.Err)
}

func (e *SourceOpenError) Unwrap() error { return e.Err }

// SourceReadError is an unrecoverable read failure. The source treats it as end of stream.
type SourceReadError struct {
	Seq uint64 // last sequence number successfully read
	Err error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read frame after seq %d: %v", e.Seq, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// DetectorError wraps a failed detector call. It never aborts the pipeline.
type DetectorError struct {
	Seq uint64
	Err error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detect frame %d: %v", e.Seq, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }
