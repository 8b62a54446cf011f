package pipeline

import (
	"context"
	"sync/atomic"
)

// ControlState carries the run/pause/stop signals shared by both stages.
// The controller is the only writer; stages read it once per loop iteration.
type ControlState struct {
	running       atomic.Bool
	paused        atomic.Bool
	stopRequested atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewControlState returns a state in the not-running, not-paused configuration.
// The state's context is cancelled by Stop or when parent is done.
func NewControlState(parent context.Context) *ControlState {
	ctx, cancel := context.WithCancel(parent)
	return &ControlState{ctx: ctx, cancel: cancel}
}

// SetRunning records whether the controller considers the run active.
// The flag is a controller-side indicator: stages exit on StopRequested, not on it.
func (c *ControlState) SetRunning(v bool) { c.running.Store(v) }

// Running reports the controller's run flag. It stays true until the controller has
// observed both stages exit.
func (c *ControlState) Running() bool { return c.running.Load() }

// Pause sets the paused flag. It returns false if already paused.
func (c *ControlState) Pause() bool { return c.paused.CompareAndSwap(false, true) }

// Resume clears the paused flag. It returns false if not paused.
func (c *ControlState) Resume() bool { return c.paused.CompareAndSwap(true, false) }

// Paused reports whether stages should idle.
func (c *ControlState) Paused() bool { return c.paused.Load() }

// Stop requests both stages to exit and wakes any blocked dequeue or idle sleep.
func (c *ControlState) Stop() {
	c.stopRequested.Store(true)
	c.cancel()
}

// StopRequested reports whether Stop was called or the parent context ended.
func (c *ControlState) StopRequested() bool {
	return c.stopRequested.Load() || c.ctx.Err() != nil
}

// Context is cancelled on Stop. Stages use it for blocking waits.
func (c *ControlState) Context() context.Context { return c.ctx }
