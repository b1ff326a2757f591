// Package robot holds the state shared by the control loop and the command
// channel: the active program, the stop flag, the current run and the latest
// telemetry.
package robot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/program"
)

// Telemetry is the latest sensor snapshot.
type Telemetry struct {
	Type string `json:"type"`
	hal.Readings
	Running   bool      `json:"running"`
	ProgramID string    `json:"program_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is one execution of the active program. Its context is cancelled when
// the program is stopped, cleared or replaced.
type Run struct {
	Program *program.Program
	Repeat  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the run's cancellation context.
func (r *Run) Context() context.Context { return r.ctx }

// Cancelled reports whether the run has been cancelled.
func (r *Run) Cancelled() bool { return r.ctx.Err() != nil }

// Result is the outcome of the most recent run.
type Result struct {
	ProgramID string    `json:"program_id"`
	Error     string    `json:"error,omitempty"`
	Cancelled bool      `json:"cancelled"`
	Finished  time.Time `json:"finished"`
}

// Robot is the shared state. All methods are safe for concurrent use.
type Robot struct {
	HAL *hal.HAL

	// actMu orders actuator writes between a running program and commands
	// that interrupt it, so a cancelled program can never move the wheels
	// after the interrupting command did.
	actMu sync.Mutex

	mu        sync.Mutex
	active    *program.Program
	repeat    bool
	source    string
	blockly   string
	cancel    bool
	run       *Run
	telemetry Telemetry
	last      *Result
}

// New creates the shared state around h.
func New(h *hal.HAL) *Robot {
	return &Robot{
		HAL:       h,
		telemetry: Telemetry{Type: "telemetry"},
	}
}

// SetProgram makes p the active program. A run of the previous program is
// cancelled so that p starts on the next tick. The stop flag is not set, so
// the wheels keep their current speeds until p moves them.
func (r *Robot) SetProgram(p *program.Program, repeat bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = p
	r.repeat = repeat
	r.source = p.Source
	r.cancelRunLocked()
}

// ClearProgram drops the active program and cancels its run, keeping the
// source for get_program.
func (r *Robot) ClearProgram() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
	r.cancelRunLocked()
}

func (r *Robot) cancelRunLocked() {
	if r.run != nil {
		r.run.cancel()
	}
}

// Interrupt clears the active program and then runs fn, typically a wheel
// command. With stop set the stop flag is raised as well, so the control
// loop stops the robot once it observes the cancelled run.
func (r *Robot) Interrupt(stop bool, fn func() error) error {
	r.actMu.Lock()
	defer r.actMu.Unlock()

	r.mu.Lock()
	r.active = nil
	r.cancelRunLocked()
	if stop {
		r.cancel = true
	}
	r.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn()
}

// Stop clears the program, stops the wheels and raises the stop flag.
func (r *Robot) Stop() error {
	return r.Interrupt(true, func() error { return r.HAL.Move(hal.Stop) })
}

// Act runs fn on behalf of run unless the run has been cancelled, in which
// case it returns program.ErrCancelled without calling fn.
func (r *Robot) Act(run *Run, fn func() error) error {
	r.actMu.Lock()
	defer r.actMu.Unlock()
	if run.Cancelled() {
		return program.ErrCancelled
	}
	return fn()
}

// Begin starts a run of the active program, or returns nil when there is
// none. The run's context derives from ctx.
func (r *Robot) Begin(ctx context.Context) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.run = &Run{Program: r.active, Repeat: r.repeat, ctx: runCtx, cancel: cancel}
	return r.run
}

// Finish records the end of a run. The program stays active only when it is
// still the active one, it was set to repeat and it completed without error.
func (r *Robot) Finish(run *Run, err error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run.cancel()
	if r.run == run {
		r.run = nil
	}
	if r.active == run.Program && (!run.Repeat || err != nil) {
		r.active = nil
	}

	res := &Result{ProgramID: run.Program.ID, Finished: now}
	if err != nil {
		res.Error = err.Error()
		res.Cancelled = errors.Is(err, program.ErrCancelled)
	}
	r.last = res
}

// TakeCancel returns the stop flag and clears it.
func (r *Robot) TakeCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cancel
	r.cancel = false
	return c
}

// CancelPending reports whether a stop has been requested but not yet
// observed by the control loop.
func (r *Robot) CancelPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel
}

// Running reports whether a run is in progress.
func (r *Robot) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run != nil
}

// Active returns the active program, or nil.
func (r *Robot) Active() *program.Program {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ProgramSource returns the source of the most recently set program.
func (r *Robot) ProgramSource() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

// Blockly returns the stored block editor document.
func (r *Robot) Blockly() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockly
}

// SetBlockly stores the block editor document. It is opaque to the robot.
func (r *Robot) SetBlockly(doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockly = doc
}

// LastResult returns the outcome of the most recent run, or nil.
func (r *Robot) LastResult() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	res := *r.last
	return &res
}

// SetTelemetry publishes a new snapshot.
func (r *Robot) SetTelemetry(readings hal.Readings, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := Telemetry{Type: "telemetry", Readings: readings, UpdatedAt: now}
	if r.run != nil {
		t.Running = true
		t.ProgramID = r.run.Program.ID
	}
	r.telemetry = t
}

// Telemetry returns the latest snapshot.
func (r *Robot) Telemetry() Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.telemetry
}

// LiveTelemetry is the latest snapshot with the wheel speeds currently
// issued. Sensors are sampled once per tick but speeds change with every
// command.
func (r *Robot) LiveTelemetry() Telemetry {
	t := r.Telemetry()
	t.LeftSpeed, t.RightSpeed = r.HAL.Speeds()
	return t
}
