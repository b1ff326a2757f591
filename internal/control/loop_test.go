package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/sumobot/internal/config"
	"github.com/banshee-data/sumobot/internal/fsutil"
	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/program"
	"github.com/banshee-data/sumobot/internal/robot"
	"github.com/banshee-data/sumobot/internal/timeutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRobot(t *testing.T) (*robot.Robot, *hal.FakeHardware) {
	t.Helper()
	hw := hal.NewFakeHardware()
	cal := config.EmptyCalibration()
	cal.SetLineBaselines(500, 500)
	store := config.NewFileStoreFS("/cal.json", fsutil.NewMemoryFileSystem())
	require.NoError(t, store.Save(cal))
	hw.SetAnalog(hal.DefaultPinout.LineLeft, 500)
	hw.SetAnalog(hal.DefaultPinout.LineRight, 500)

	h, err := hal.New(hw, store, hal.Options{Logf: t.Logf})
	require.NoError(t, err)
	return robot.New(h), hw
}

func setProgram(t *testing.T, r *robot.Robot, src string, repeat bool) *program.Program {
	t.Helper()
	p, err := program.Compile(src, program.Options{})
	require.NoError(t, err)
	r.SetProgram(p, repeat)
	return p
}

func speeds(r *robot.Robot) [2]int {
	l, rt := r.HAL.Speeds()
	return [2]int{l, rt}
}

type recorder struct {
	mu      sync.Mutex
	samples []robot.Telemetry
	runs    []robot.Result
}

func (r *recorder) RecordRun(res robot.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, res)
	return nil
}

func (r *recorder) RecordTelemetry(t robot.Telemetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, t)
	return nil
}

func TestStep_RunsProgramOnce(t *testing.T) {
	r, _ := newTestRobot(t)
	l := New(Config{Robot: r, Clock: timeutil.NewMockClock(epoch), Logf: t.Logf})
	setProgram(t, r, "robot.Move(robot.FORWARD)", false)

	l.Step(context.Background())
	assert.Equal(t, [2]int{100, -100}, speeds(r))
	assert.Nil(t, r.Active())

	// Nothing active: the wheels keep the program's last command.
	l.Step(context.Background())
	assert.Equal(t, [2]int{100, -100}, speeds(r))
}

func TestStep_RepeatRunsEveryTick(t *testing.T) {
	r, _ := newTestRobot(t)
	l := New(Config{Robot: r, Clock: timeutil.NewMockClock(epoch), Logf: t.Logf})
	p := setProgram(t, r, "if robot.Opponent() {;;robot.Move(robot.FORWARD);;} else {;;robot.Move(robot.LEFT);;}", true)

	for range 3 {
		l.Step(context.Background())
	}
	assert.Same(t, p, r.Active())
	assert.Equal(t, [2]int{-100, -100}, speeds(r))
}

func TestStep_StopClearsFlagAndZeroesTelemetry(t *testing.T) {
	r, _ := newTestRobot(t)
	l := New(Config{Robot: r, Clock: timeutil.NewMockClock(epoch), Logf: t.Logf})
	require.NoError(t, r.HAL.Move(hal.Forward))

	require.NoError(t, r.Stop())
	assert.True(t, r.CancelPending())
	l.Step(context.Background())

	assert.False(t, r.CancelPending())
	assert.Equal(t, [2]int{0, 0}, speeds(r))
	tel := r.Telemetry()
	assert.Equal(t, 0, tel.LeftSpeed)
	assert.Equal(t, 0, tel.RightSpeed)
	assert.False(t, tel.Running)
}

func TestStep_RuntimeErrorStopsWheels(t *testing.T) {
	r, _ := newTestRobot(t)
	l := New(Config{Robot: r, Clock: timeutil.NewMockClock(epoch), Logf: t.Logf})
	setProgram(t, r, `robot.Move(robot.FORWARD);;panic("lost")`, true)

	l.Step(context.Background())
	assert.Equal(t, [2]int{0, 0}, speeds(r))
	assert.Nil(t, r.Active(), "failed programs are not repeated")
	assert.Contains(t, r.LastResult().Error, "lost")
}

func TestStep_SleepRefreshesTelemetry(t *testing.T) {
	r, hw := newTestRobot(t)
	clock := timeutil.NewMockClock(epoch)
	l := New(Config{Robot: r, Clock: clock, Tick: 50 * time.Millisecond, Logf: t.Logf})
	setProgram(t, r, "robot.Sleep(200);;robot.Move(robot.RIGHT)", false)

	done := make(chan struct{})
	go func() {
		l.Step(context.Background())
		close(done)
	}()

	for i := range 4 {
		require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond, "slice %d", i)
		if i == 2 {
			hw.SetDistance(10)
		}
		clock.Advance(50 * time.Millisecond)
	}
	<-done

	tel := r.Telemetry()
	assert.Equal(t, epoch.Add(200*time.Millisecond), tel.UpdatedAt)
	assert.InDelta(t, 10.0, tel.Distance, 0.1, "sensors are read during the sleep")
	assert.Equal(t, [2]int{100, 100}, speeds(r))
}

func TestStep_RecordsEveryN(t *testing.T) {
	r, _ := newTestRobot(t)
	rec := &recorder{}
	l := New(Config{Robot: r, Clock: timeutil.NewMockClock(epoch), Recorder: rec, RecordEvery: 3, Logf: t.Logf})

	for range 7 {
		l.Step(context.Background())
	}
	assert.Len(t, rec.samples, 2)
	assert.Equal(t, "telemetry", rec.samples[0].Type)
	assert.Empty(t, rec.runs)

	p := setProgram(t, r, `panic("boom")`, false)
	l.Step(context.Background())
	require.Len(t, rec.runs, 1)
	assert.Equal(t, p.ID, rec.runs[0].ProgramID)
	assert.Contains(t, rec.runs[0].Error, "boom")
}

func TestRun_StopCancelsLongSleepWithinATick(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _ := newTestRobot(t)
	l := New(Config{Robot: r, Tick: 50 * time.Millisecond, Logf: t.Logf})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	setProgram(t, r, "robot.Move(robot.FORWARD);;robot.Sleep(10000);;robot.Move(robot.BACKWARD)", false)
	require.Eventually(t, func() bool { return speeds(r) == [2]int{100, -100} }, time.Second, time.Millisecond)
	require.True(t, r.Running())

	start := time.Now()
	require.NoError(t, r.Stop())
	require.Eventually(t, func() bool { return !r.Running() && !r.CancelPending() }, time.Second, time.Millisecond)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	assert.Equal(t, [2]int{0, 0}, speeds(r))
	assert.True(t, r.LastResult().Cancelled)
}

func TestRun_StopCancelsBusyLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _ := newTestRobot(t)
	l := New(Config{Robot: r, Tick: 20 * time.Millisecond, Logf: t.Logf})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	setProgram(t, r, "robot.Move(robot.FORWARD);;n := 0;;for { n++ }", false)
	require.Eventually(t, func() bool { return speeds(r) == [2]int{100, -100} }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.True(t, r.Running())

	start := time.Now()
	require.NoError(t, r.Stop())
	require.Eventually(t, func() bool { return !r.Running() && !r.CancelPending() }, time.Second, time.Millisecond)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	assert.Equal(t, [2]int{0, 0}, speeds(r))
	assert.True(t, r.LastResult().Cancelled)
}

func TestRun_MoveCommandReplacesRunningProgram(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _ := newTestRobot(t)
	l := New(Config{Robot: r, Tick: 20 * time.Millisecond, Logf: t.Logf})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	setProgram(t, r, "for {;;robot.Move(robot.LEFT);;robot.Sleep(30);;robot.Move(robot.RIGHT);;robot.Sleep(30);;}", false)
	require.Eventually(t, r.Running, time.Second, time.Millisecond)

	require.NoError(t, r.Interrupt(false, func() error { return r.HAL.Move(hal.Forward) }))
	require.Eventually(t, func() bool { return !r.Running() }, time.Second, time.Millisecond)

	// A few more ticks must not disturb the commanded motion.
	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, r.Active())
	assert.Equal(t, [2]int{100, -100}, speeds(r))
}

func TestRun_StopsRobotOnExit(t *testing.T) {
	r, _ := newTestRobot(t)
	clock := timeutil.NewMockClock(epoch)
	l := New(Config{Robot: r, Clock: clock, Logf: t.Logf})
	require.NoError(t, r.HAL.Move(hal.Backward))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))
	assert.Equal(t, [2]int{0, 0}, speeds(r))
	assert.False(t, r.CancelPending())
}
