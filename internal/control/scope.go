package control

import (
	"fmt"
	"time"

	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/program"
	"github.com/banshee-data/sumobot/internal/robot"
)

// scope implements program.Scope for one run. Every primitive first checks
// the run's cancellation, so a stopped program unwinds at its next call.
type scope struct {
	loop *Loop
	run  *robot.Run
}

var _ program.Scope = (*scope)(nil)

// Checkpoint reports whether the run has been cancelled. The program calls it
// on every loop iteration, so it must stay cheap.
func (s *scope) Checkpoint() error {
	if s.run.Cancelled() {
		return program.ErrCancelled
	}
	return nil
}

func (s *scope) Move(d hal.Direction) error {
	return s.loop.robot.Act(s.run, func() error { return s.loop.robot.HAL.Move(d) })
}

func (s *scope) Drive(left, right int) error {
	return s.loop.robot.Act(s.run, func() error { return s.loop.robot.HAL.Drive(left, right) })
}

// Sleep waits in slices of at most one tick, refreshing sensors between
// slices so indicators and telemetry stay live during long waits.
func (s *scope) Sleep(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("negative sleep %v", d)
	}
	done := s.run.Context().Done()
	for {
		if err := s.Checkpoint(); err != nil {
			return err
		}
		if d <= 0 {
			return nil
		}
		slice := min(d, s.loop.tick)
		select {
		case <-done:
			return program.ErrCancelled
		case <-s.loop.clock.After(slice):
		}
		d -= slice
		s.loop.refresh()
	}
}

func (s *scope) Opponent() (bool, error) {
	return s.detected(hal.Opponent)
}

func (s *scope) LineLeft() (bool, error) {
	return s.detected(hal.LineLeft)
}

func (s *scope) LineRight() (bool, error) {
	return s.detected(hal.LineRight)
}

func (s *scope) detected(ch hal.Channel) (bool, error) {
	if err := s.Checkpoint(); err != nil {
		return false, err
	}
	return s.loop.robot.HAL.Detected(ch), nil
}

func (s *scope) Distance() (float64, error) {
	if err := s.Checkpoint(); err != nil {
		return 0, err
	}
	return s.loop.robot.HAL.ReadDistance()
}

func (s *scope) Battery() (int, error) {
	if err := s.Checkpoint(); err != nil {
		return 0, err
	}
	return s.loop.robot.HAL.BatteryLevel()
}
