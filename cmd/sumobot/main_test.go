package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sumobot/internal/config"
	"github.com/banshee-data/sumobot/internal/fsutil"
	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/program"
	"github.com/banshee-data/sumobot/internal/robot"
)

func setFlag[T any](t *testing.T, p *T, v T) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

func TestChannelURI(t *testing.T) {
	setFlag(t, server, "relay.local:9000")
	setFlag(t, robotID, "r7")
	setFlag(t, uri, "")
	assert.Equal(t, "ws://relay.local:9000/p2p/sumo-r7/browser/", channelURI())

	setFlag(t, uri, "ws://elsewhere/p2p/x/browser/")
	assert.Equal(t, "ws://elsewhere/p2p/x/browser/", channelURI())
}

func TestChannelURI_DefaultsToHostName(t *testing.T) {
	setFlag(t, robotID, "")
	setFlag(t, uri, "")
	assert.Contains(t, channelURI(), "/p2p/sumo-")
}

func newRobot(t *testing.T) *robot.Robot {
	t.Helper()
	store := config.NewFileStoreFS("/calibration.json", fsutil.NewMemoryFileSystem())
	h, err := hal.New(hal.NewFakeHardware(), store, hal.Options{})
	require.NoError(t, err)
	return robot.New(h)
}

func TestLoadProgram(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.go")
	require.NoError(t, os.WriteFile(good, []byte("robot.Move(robot.FORWARD);;robot.Sleep(10)"), 0o644))
	bad := filepath.Join(dir, "bad.go")
	require.NoError(t, os.WriteFile(bad, []byte("robot.Move(robot.FORWARD"), 0o644))

	r := newRobot(t)
	require.NoError(t, loadProgram(r, good))
	require.NotNil(t, r.Active())
	assert.Equal(t, "robot.Move(robot.FORWARD)\nrobot.Sleep(10)", r.ProgramSource())

	first := r.Active()
	err := loadProgram(r, bad)
	var ce *program.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Same(t, first, r.Active())

	assert.Error(t, loadProgram(r, filepath.Join(dir, "missing.go")))
}
