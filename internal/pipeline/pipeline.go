// Package pipeline implements the concurrent frame pipeline: a frame source feeding a
// bounded drop-on-full queue, drained by a decimating inference stage, all coordinated
// through a shared ControlState.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultIdleInterval is the sleep between polls while paused.
const DefaultIdleInterval = 100 * time.Millisecond

// Config holds the per-run settings.
type Config struct {
	VideoPath     string
	SkipFrames    int           // K: forward every Kth dequeued frame
	QueueCapacity int           // C
	IdleInterval  time.Duration // paused poll interval
}

// Deps are the collaborators a run is wired to.
type Deps struct {
	Opener    Opener
	Detector  Detector
	Snapshots *SnapshotStore // may be shared across runs, each Start takes ownership; a fresh store is used when nil
	FrameSink FrameSink
	SnapSink  SnapshotSink
}

// Pipeline is a single run. It cannot be restarted; a new run needs a new Pipeline.
type Pipeline struct {
	runID   string
	cfg     Config
	control *ControlState
	queue   *FrameQueue
	source  *FrameSource
	stage   *InferenceStage
	started time.Time

	done chan struct{}
	err  error
}

// Start opens the video source and launches both stages. If the source cannot be
// opened, a *SourceOpenError is returned and no goroutine is started.
func Start(ctx context.Context, control *ControlState, cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.VideoPath == "" {
		return nil, errors.New("video path is required")
	}
	if deps.Opener == nil {
		return nil, errors.New("opener is required")
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if control == nil {
		control = NewControlState(ctx)
	}
	if deps.Snapshots == nil {
		deps.Snapshots = NewSnapshotStore()
	}

	queue, err := NewFrameQueue(cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	stage, err := NewInferenceStage(queue, control, deps.Detector, deps.Snapshots, StageOptions{
		RunID:      runID,
		SkipFrames: cfg.SkipFrames,
		Idle:       cfg.IdleInterval,
		FrameSink:  deps.FrameSink,
		SnapSink:   deps.SnapSink,
	})
	if err != nil {
		return nil, err
	}

	source, err := OpenSource(ctx, cfg.VideoPath, deps.Opener, queue, control, cfg.IdleInterval)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		runID:   runID,
		cfg:     cfg,
		control: control,
		queue:   queue,
		source:  source,
		stage:   stage,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	deps.Snapshots.Begin(runID)
	control.SetRunning(true)

	var g errgroup.Group
	g.Go(source.Run)
	g.Go(stage.Run)
	go func() {
		p.err = g.Wait()
		s := p.Stats()
		log.Info().
			Str("run_id", runID).
			Uint64("read", s.FramesRead).
			Uint64("dropped", s.FramesDropped).
			Uint64("forwarded", s.FramesForwarded).
			Uint64("detector_errors", s.DetectorErrors).
			Dur("elapsed", time.Since(p.started)).
			Msg("pipeline finished")
		close(p.done)
	}()

	log.Info().
		Str("run_id", runID).
		Str("video", cfg.VideoPath).
		Int("skip", cfg.SkipFrames).
		Int("queue", cfg.QueueCapacity).
		Msg("pipeline started")
	return p, nil
}

// RunID identifies this run in logs and snapshots.
func (p *Pipeline) RunID() string { return p.runID }

// VideoPath returns the path this run reads from.
func (p *Pipeline) VideoPath() string { return p.cfg.VideoPath }

// Control exposes the run's control state.
func (p *Pipeline) Control() *ControlState { return p.control }

// Done is closed once both stages have exited and the capture is released.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Wait blocks until the run has finished.
func (p *Pipeline) Wait() error {
	<-p.done
	return p.err
}

// Stop requests both stages to exit and waits for them, or for ctx.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.control.Stop()
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for run %s to stop: %w", p.runID, ctx.Err())
	}
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	read, dropped := p.source.Frames()
	dequeued, forwarded, detErrors := p.stage.Counters()
	return Stats{
		FramesRead:      read,
		FramesDropped:   dropped,
		FramesDequeued:  dequeued,
		FramesForwarded: forwarded,
		DetectorErrors:  detErrors,
		QueueLen:        p.queue.Len(),
		QueueCap:        p.queue.Cap(),
	}
}
