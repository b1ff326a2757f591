// Package control runs the robot's control loop: every tick it polls the
// sensors, publishes telemetry, runs the active program and applies stop
// requests.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/monitoring"
	"github.com/banshee-data/sumobot/internal/program"
	"github.com/banshee-data/sumobot/internal/robot"
	"github.com/banshee-data/sumobot/internal/timeutil"
)

const (
	// DefaultTick is the control loop period.
	DefaultTick = 50 * time.Millisecond
	// DefaultRecordEvery is the number of ticks between recorded samples.
	DefaultRecordEvery = 20
)

// Recorder stores telemetry samples and run outcomes.
type Recorder interface {
	RecordTelemetry(t robot.Telemetry) error
	RecordRun(res robot.Result) error
}

// Config configures a Loop.
type Config struct {
	Robot *robot.Robot
	Clock timeutil.Clock
	Tick  time.Duration

	// Recorder, when set, receives a sample every RecordEvery ticks and
	// the outcome of every run.
	Recorder    Recorder
	RecordEvery int

	Logf func(format string, args ...interface{})
}

// Loop is the control loop. Run it on a single goroutine.
type Loop struct {
	robot       *robot.Robot
	clock       timeutil.Clock
	tick        time.Duration
	recorder    Recorder
	recordEvery int
	logf        func(format string, args ...interface{})

	ticks       uint64
	lastPollErr string
}

// New creates a Loop, applying defaults to unset fields.
func New(cfg Config) *Loop {
	l := &Loop{
		robot:       cfg.Robot,
		clock:       cfg.Clock,
		tick:        cfg.Tick,
		recorder:    cfg.Recorder,
		recordEvery: cfg.RecordEvery,
		logf:        monitoring.Or(cfg.Logf),
	}
	if l.clock == nil {
		l.clock = timeutil.RealClock{}
	}
	if l.tick <= 0 {
		l.tick = DefaultTick
	}
	if l.recordEvery <= 0 {
		l.recordEvery = DefaultRecordEvery
	}
	return l
}

// Tick returns the loop period.
func (l *Loop) Tick() time.Duration {
	return l.tick
}

// Run steps the loop on every tick until ctx is done, then stops the robot.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.tick)
	defer ticker.Stop()
	defer func() {
		if err := l.robot.Stop(); err != nil {
			l.logf("control: failed to stop robot on exit: %v", err)
		}
		l.robot.TakeCancel()
	}()

	l.logf("control: loop started, tick %v", l.tick)
	for {
		select {
		case <-ctx.Done():
			l.logf("control: loop stopping: %v", ctx.Err())
			return nil
		case <-ticker.C():
			l.Step(ctx)
		}
	}
}

// Step performs one tick: refresh sensors and telemetry, run the active
// program if any, then honour a pending stop.
func (l *Loop) Step(ctx context.Context) {
	l.ticks++
	l.refresh()
	if l.recorder != nil && l.ticks%uint64(l.recordEvery) == 0 {
		if err := l.recorder.RecordTelemetry(l.robot.Telemetry()); err != nil {
			l.logf("control: failed to record telemetry: %v", err)
		}
	}

	if run := l.robot.Begin(ctx); run != nil {
		err := run.Program.Run(&scope{loop: l, run: run})
		l.robot.Finish(run, err, l.clock.Now())
		l.report(run, err)
		if l.recorder != nil {
			if res := l.robot.LastResult(); res != nil {
				if err := l.recorder.RecordRun(*res); err != nil {
					l.logf("control: failed to record run: %v", err)
				}
			}
		}
	}

	if l.robot.TakeCancel() {
		if err := l.robot.HAL.Move(hal.Stop); err != nil {
			l.logf("control: failed to stop wheels: %v", err)
		}
	}
}

func (l *Loop) report(run *robot.Run, err error) {
	var rerr *program.RuntimeError
	switch {
	case err == nil:
	case errors.Is(err, program.ErrCancelled):
		l.logf("control: program %s cancelled", run.Program.ID)
	case errors.As(err, &rerr):
		l.logf("control: program %s failed: %v", run.Program.ID, rerr.Err)
		if err := l.robot.HAL.Move(hal.Stop); err != nil {
			l.logf("control: failed to stop wheels: %v", err)
		}
	default:
		l.logf("control: program %s: %v", run.Program.ID, err)
	}
}

// refresh polls the sensors, which also drives the indicator LEDs, and
// publishes the readings. Repeated identical poll errors are logged once.
func (l *Loop) refresh() {
	readings, err := l.robot.HAL.Poll()
	if err != nil {
		if msg := err.Error(); msg != l.lastPollErr {
			l.logf("control: sensor poll: %v", err)
			l.lastPollErr = msg
		}
	} else {
		l.lastPollErr = ""
	}
	l.robot.SetTelemetry(readings, l.clock.Now())
}
