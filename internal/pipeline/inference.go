package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// InferenceStage consumes frames, forwards every Kth one to the detector and
// publishes the results.
type InferenceStage struct {
	runID     string
	skip      uint64
	queue     *FrameQueue
	control   *ControlState
	detector  Detector
	snapshots *SnapshotStore
	frames    FrameSink
	snaps     SnapshotSink
	idle      time.Duration
	stats     *counters
	counter   uint64
}

// StageOptions configures an InferenceStage. Nil sinks discard their input.
type StageOptions struct {
	RunID      string
	SkipFrames int
	Idle       time.Duration
	FrameSink  FrameSink
	SnapSink   SnapshotSink
}

// NewInferenceStage validates the skip factor and wires the stage.
func NewInferenceStage(queue *FrameQueue, control *ControlState, det Detector, store *SnapshotStore, opts StageOptions) (*InferenceStage, error) {
	if opts.SkipFrames < 1 {
		return nil, fmt.Errorf("skip factor must be >= 1, got %d", opts.SkipFrames)
	}
	if det == nil {
		return nil, fmt.Errorf("detector is required")
	}
	st := &InferenceStage{
		runID:     opts.RunID,
		skip:      uint64(opts.SkipFrames),
		queue:     queue,
		control:   control,
		detector:  det,
		snapshots: store,
		frames:    opts.FrameSink,
		snaps:     opts.SnapSink,
		idle:      opts.Idle,
		stats:     &counters{},
	}
	if st.frames == nil {
		st.frames = discardSink{}
	}
	if st.snaps == nil {
		st.snaps = discardSink{}
	}
	return st, nil
}

// Run is the decimation/inference loop. It returns when stop is requested or
// the queue is closed and drained. Detector failures are logged and skipped.
func (st *InferenceStage) Run() error {
	ctx := st.control.Context()
	// An in-flight detection is never interrupted by stop
	detectCtx := context.WithoutCancel(ctx)

	for {
		if st.control.StopRequested() {
			return nil
		}
		if st.control.Paused() {
			sleepCtx(ctx, st.idle)
			continue
		}

		frame, ok := st.queue.Dequeue(ctx)
		if !ok {
			if st.control.StopRequested() {
				return nil
			}
			log.Debug().Str("run_id", st.runID).Uint64("dequeued", st.counter).Msg("queue drained")
			return nil
		}

		st.counter++
		st.stats.dequeued.Add(1)
		if st.counter%st.skip != 0 {
			continue
		}
		st.stats.forwarded.Add(1)

		dets, annotated, err := st.detector.Detect(detectCtx, frame)
		if err != nil {
			st.stats.detErrors.Add(1)
			log.Warn().Err(&DetectorError{Seq: frame.Seq, Err: err}).Str("run_id", st.runID).Msg("detector failed, keeping previous snapshot")
			continue
		}

		snap := st.snapshots.Publish(st.runID, frame.Seq, dets)
		if snap == nil {
			log.Debug().Str("run_id", st.runID).Uint64("seq", frame.Seq).Msg("snapshot store taken by a newer run, result discarded")
			continue
		}
		st.snaps.AcceptSnapshot(snap)
		if annotated != nil {
			st.frames.AcceptFrame(frame.Seq, annotated)
		}
	}
}

// Counters returns the dequeued, forwarded and detector error counts.
func (st *InferenceStage) Counters() (dequeued, forwarded, detErrors uint64) {
	return st.stats.dequeued.Load(), st.stats.forwarded.Load(), st.stats.detErrors.Load()
}
