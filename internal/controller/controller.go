// Package controller owns the run lifecycle. Presentation code sends it commands;
// it is the only writer of the pipeline's ControlState.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/skuscan/internal/pipeline"
	"github.com/andresmejia3/skuscan/internal/types"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoVideoSelected is returned by Start when no video path has been selected.
	ErrNoVideoSelected = errors.New("no video selected")
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("pipeline already running")
	// ErrStillStopping is returned by Start while a stopped run has not yet drained.
	ErrStillStopping = errors.New("previous run is still stopping")
	// ErrClosed is returned for commands sent after Run has returned.
	ErrClosed = errors.New("controller closed")
)

// State is the process-wide run lifecycle.
type State int

const (
	Idle State = iota
	Running
	Paused
	Stopping // stop requested, a stage is still inside a blocking call
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is a read-only view of the controller.
type Status struct {
	State     State
	VideoPath string
	RunID     string
	Stats     pipeline.Stats
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	VideoPath  string
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      pipeline.Stats
}

// Settings are the per-run parameters handed to each new pipeline.
type Settings struct {
	SkipFrames    int
	QueueCapacity int
	IdleInterval  time.Duration
	StopTimeout   time.Duration

	// OnFinish is called from the controller loop after each run ends.
	OnFinish func(Summary)
}

type commandKind int

const (
	cmdSelect commandKind = iota
	cmdStart
	cmdPause
	cmdResume
	cmdToggle
	cmdStop
)

type command struct {
	kind  commandKind
	path  string
	reply chan error
}

// Controller serialises commands through its Run loop.
type Controller struct {
	settings Settings
	deps     pipeline.Deps
	store    *pipeline.SnapshotStore
	cmds     chan command
	closed   chan struct{}

	mu      sync.RWMutex // guards the fields below for readers; written only by Run
	state   State
	video   string
	current *pipeline.Pipeline
	started time.Time
	lastRun string
	last    pipeline.Stats
}

// New creates an idle controller. deps.Snapshots is replaced by the controller's own store.
func New(settings Settings, deps pipeline.Deps) *Controller {
	if settings.StopTimeout <= 0 {
		settings.StopTimeout = 10 * time.Second
	}
	store := pipeline.NewSnapshotStore()
	deps.Snapshots = store
	return &Controller{
		settings: settings,
		deps:     deps,
		store:    store,
		cmds:     make(chan command),
		closed:   make(chan struct{}),
	}
}

// Run processes commands until ctx is done. Any active run is stopped before returning.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.closed)
	for {
		var finished <-chan struct{}
		if p := c.active(); p != nil {
			finished = p.Done()
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case cmd := <-c.cmds:
			cmd.reply <- c.handle(ctx, cmd)
		case <-finished:
			c.finish()
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdSelect:
		return c.selectVideo(cmd.path)
	case cmdStart:
		return c.start(ctx)
	case cmdPause:
		c.pause()
		return nil
	case cmdResume:
		c.resume()
		return nil
	case cmdToggle:
		if c.Status().State == Paused {
			c.resume()
		} else {
			c.pause()
		}
		return nil
	case cmdStop:
		return c.stop()
	}
	return fmt.Errorf("unknown command %d", cmd.kind)
}

func (c *Controller) selectVideo(path string) error {
	if path == "" {
		return errors.New("video path is empty")
	}
	c.mu.Lock()
	c.video = path
	c.mu.Unlock()
	log.Info().Str("video", path).Msg("video selected")
	return nil
}

func (c *Controller) start(ctx context.Context) error {
	c.mu.RLock()
	state, video := c.state, c.video
	c.mu.RUnlock()

	if state == Running || state == Paused {
		return ErrAlreadyRunning
	}
	if state == Stopping {
		return ErrStillStopping
	}
	if video == "" {
		return ErrNoVideoSelected
	}

	control := pipeline.NewControlState(ctx)
	p, err := pipeline.Start(ctx, control, pipeline.Config{
		VideoPath:     video,
		SkipFrames:    c.settings.SkipFrames,
		QueueCapacity: c.settings.QueueCapacity,
		IdleInterval:  c.settings.IdleInterval,
	}, c.deps)
	if err != nil {
		control.Stop()
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.current = p
	c.started = time.Now()
	c.state = Running
	c.lastRun = ""
	c.mu.Unlock()

	if r, ok := c.deps.FrameSink.(interface{ Reset() }); ok {
		r.Reset()
	}
	return nil
}

func (c *Controller) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return
	}
	if c.current.Control().Pause() {
		c.state = Paused
		log.Info().Str("run_id", c.current.RunID()).Msg("paused")
	}
}

func (c *Controller) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Paused {
		return
	}
	if c.current.Control().Resume() {
		c.state = Running
		log.Info().Str("run_id", c.current.RunID()).Msg("resumed")
	}
}

func (c *Controller) stop() error {
	p := c.active()
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.settings.StopTimeout)
	defer cancel()
	err := p.Stop(ctx)
	select {
	case <-p.Done():
		c.finish()
		return p.Wait()
	default:
	}

	// Run calls finish once Done closes
	c.mu.Lock()
	c.state = Stopping
	c.mu.Unlock()
	log.Warn().Str("run_id", p.RunID()).Dur("timeout", c.settings.StopTimeout).Msg("run still draining after stop")
	return err
}

// finish records the end of the current run. Called from Run only.
func (c *Controller) finish() {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	c.current.Control().SetRunning(false)
	c.last = c.current.Stats()
	c.lastRun = c.current.RunID()
	sum := Summary{
		RunID:      c.lastRun,
		VideoPath:  c.current.VideoPath(),
		StartedAt:  c.started,
		FinishedAt: time.Now(),
		Stats:      c.last,
	}
	c.current = nil
	c.state = Stopped
	c.mu.Unlock()

	log.Info().Str("run_id", sum.RunID).Dur("elapsed", sum.FinishedAt.Sub(sum.StartedAt)).Msg("run stopped")
	if c.settings.OnFinish != nil {
		c.settings.OnFinish(sum)
	}
}

func (c *Controller) shutdown() {
	p := c.active()
	if p == nil {
		return
	}
	if err := c.stop(); err != nil {
		log.Warn().Err(err).Msg("stopping active run on shutdown")
	}
	if c.active() != nil {
		<-p.Done()
		c.finish()
	}
}

func (c *Controller) active() *pipeline.Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Controller) send(kind commandKind, path string) error {
	cmd := command{kind: kind, path: path, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.closed:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.closed:
		return ErrClosed
	}
}

// SelectVideo sets the video used by the next Start.
func (c *Controller) SelectVideo(path string) error { return c.send(cmdSelect, path) }

// Start launches a new pipeline for the selected video.
func (c *Controller) Start() error { return c.send(cmdStart, "") }

// Pause pauses the active run. No-op unless running.
func (c *Controller) Pause() error { return c.send(cmdPause, "") }

// Resume resumes a paused run. No-op unless paused.
func (c *Controller) Resume() error { return c.send(cmdResume, "") }

// TogglePause flips between running and paused.
func (c *Controller) TogglePause() error { return c.send(cmdToggle, "") }

// Stop ends the active run and waits for both stages to exit. No-op when nothing runs.
// If they have not exited within StopTimeout the error is returned and the state stays
// Stopping until they do.
func (c *Controller) Stop() error { return c.send(cmdStop, "") }

// Status returns the current state and counters.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{State: c.state, VideoPath: c.video, RunID: c.lastRun, Stats: c.last}
	if c.current != nil {
		st.RunID = c.current.RunID()
		st.Stats = c.current.Stats()
	}
	return st
}

// Snapshot returns the most recently published detection snapshot.
func (c *Controller) Snapshot() *types.Snapshot {
	return c.store.Load()
}
