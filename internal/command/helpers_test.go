package command

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sumobot/internal/config"
	"github.com/banshee-data/sumobot/internal/fsutil"
	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/robot"
)

const calPath = "/robot/calibration.json"

type testRobot struct {
	*robot.Robot
	hw  *hal.FakeHardware
	mfs *fsutil.MemoryFileSystem
}

func newTestRobot(t *testing.T) *testRobot {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	store := config.NewFileStoreFS(calPath, mfs)
	cal := config.EmptyCalibration()
	cal.SetLineBaselines(1000, 1000)
	require.NoError(t, store.Save(cal))

	hw := hal.NewFakeHardware()
	h, err := hal.New(hw, store, hal.Options{LineSamples: 2, Logf: t.Logf})
	require.NoError(t, err)
	return &testRobot{Robot: robot.New(h), hw: hw, mfs: mfs}
}

func (r *testRobot) speeds() [2]int {
	l, rt := r.HAL.Speeds()
	return [2]int{l, rt}
}

type recordedCommand struct {
	Name string
	OK   bool
	Err  string
}

type fakeJournal struct {
	entries []recordedCommand
}

func (j *fakeJournal) RecordCommand(name string, ok bool, errMsg string) error {
	j.entries = append(j.entries, recordedCommand{name, ok, errMsg})
	return nil
}
