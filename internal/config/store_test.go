package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sumobot/internal/fsutil"
)

func TestFileStore_LoadMissingAppliesDefaults(t *testing.T) {
	store := NewFileStoreFS("/robot/calibration.json", fsutil.NewMemoryFileSystem())

	cal, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 40, cal.GetUltrasonicThreshold())
	assert.Equal(t, 1000, cal.GetLineLeftThreshold())
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	store := NewFileStore(path)

	cal := EmptyCalibration()
	cal.SetLineBaselines(1500, 1600)
	cal.SetUltrasonicThreshold(30)
	require.NoError(t, store.Save(cal))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cal.Scope(), loaded.Scope())
	assert.Nil(t, loaded.BatteryCoefficient, "unset fields stay unset on disk")
}

func TestFileStore_LoadRejectsBadFiles(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()

	require.NoError(t, mfs.WriteFile("/cal.json", []byte("{not json"), 0o644))
	_, err := NewFileStoreFS("/cal.json", mfs).Load()
	assert.ErrorContains(t, err, "parse")

	require.NoError(t, mfs.WriteFile("/cal.json", []byte(`{"ultrasonic_threshold": -3}`), 0o644))
	_, err = NewFileStoreFS("/cal.json", mfs).Load()
	assert.ErrorContains(t, err, "invalid calibration")

	_, err = NewFileStoreFS("/cal.yaml", mfs).Load()
	assert.ErrorContains(t, err, ".json")
}

func TestFileStore_SaveFailureLeavesFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	store := NewFileStoreFS("/cal.json", mfs)

	first := EmptyCalibration()
	first.SetUltrasonicThreshold(20)
	require.NoError(t, store.Save(first))

	mfs.RenameErr = errors.New("power lost")
	second := EmptyCalibration()
	second.SetUltrasonicThreshold(50)
	assert.Error(t, store.Save(second))

	mfs.RenameErr = nil
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.GetUltrasonicThreshold())
}

func TestFileStore_LoadExternalSkipsOwnWrites(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	store := NewFileStoreFS("/cal.json", mfs)

	_, _, err := store.loadExternal()
	assert.ErrorIs(t, err, os.ErrNotExist)

	saved := EmptyCalibration()
	saved.SetUltrasonicThreshold(20)
	require.NoError(t, store.Save(saved))
	cal, own, err := store.loadExternal()
	require.NoError(t, err)
	assert.True(t, own)
	assert.Nil(t, cal)

	// A failed save leaves the previous own write on disk.
	mfs.RenameErr = errors.New("power lost")
	newer := EmptyCalibration()
	newer.SetUltrasonicThreshold(50)
	require.Error(t, store.Save(newer))
	mfs.RenameErr = nil
	_, own, err = store.loadExternal()
	require.NoError(t, err)
	assert.True(t, own)

	require.NoError(t, mfs.WriteFile("/cal.json", []byte(`{"ultrasonic_threshold": 33}`), 0o644))
	cal, own, err = store.loadExternal()
	require.NoError(t, err)
	assert.False(t, own)
	assert.Equal(t, 33, cal.GetUltrasonicThreshold())
}

func TestFileStore_SaveRejectsInvalid(t *testing.T) {
	store := NewFileStoreFS("/cal.json", fsutil.NewMemoryFileSystem())
	cal := EmptyCalibration()
	cal.SetLineThreshold(-10)
	assert.Error(t, store.Save(cal))
}

func TestFileStore_OSPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	require.NoError(t, NewFileStore(path).Save(EmptyCalibration()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}
