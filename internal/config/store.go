// Package config loads, validates and persists the robot calibration.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/banshee-data/sumobot/internal/fsutil"
)

// DefaultCalibrationPath is where the daemon keeps its calibration.
const DefaultCalibrationPath = "calibration.json"

const maxFileSize = 64 * 1024

// Store persists calibration. Save must be atomic from the caller's point of
// view.
type Store interface {
	Load() (*Calibration, error)
	Save(*Calibration) error
}

// FileStore keeps the calibration as a JSON file.
type FileStore struct {
	path string
	fs   fsutil.FileSystem

	mu sync.Mutex
	// written is the hash of the last contents Save wrote.
	written []byte
}

// NewFileStore creates a FileStore on the OS filesystem.
func NewFileStore(path string) *FileStore {
	return NewFileStoreFS(path, fsutil.OSFileSystem{})
}

// NewFileStoreFS creates a FileStore on the given filesystem.
func NewFileStoreFS(path string, fsys fsutil.FileSystem) *FileStore {
	return &FileStore{path: filepath.Clean(path), fs: fsys}
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the calibration file. A missing file yields an empty calibration
// so that every value falls back to its default.
func (s *FileStore) Load() (*Calibration, error) {
	data, err := s.read()
	if errors.Is(err, fs.ErrNotExist) {
		return EmptyCalibration(), nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// loadExternal is Load for files changed by someone else. own is true, and
// cal nil, when the file still holds the contents of the last Save.
func (s *FileStore) loadExternal() (cal *Calibration, own bool, err error) {
	data, err := s.read()
	if err != nil {
		return nil, false, err
	}
	if s.wrote(data) {
		return nil, true, nil
	}
	cal, err = decode(data)
	return cal, false, err
}

func (s *FileStore) read() ([]byte, error) {
	if ext := filepath.Ext(s.path); ext != ".json" {
		return nil, fmt.Errorf("calibration file must have .json extension, got %q", ext)
	}
	data, err := s.fs.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Calibration, error) {
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", len(data), maxFileSize)
	}

	cal := EmptyCalibration()
	if err := json.Unmarshal(data, cal); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}
	return cal, nil
}

// Save validates and atomically writes the calibration.
func (s *FileStore) Save(cal *Calibration) error {
	if err := cal.Validate(); err != nil {
		return fmt.Errorf("invalid calibration: %w", err)
	}
	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}

	sum := sha256.Sum256(data)
	s.mu.Lock()
	s.written = sum[:]
	s.mu.Unlock()
	return nil
}

// wrote reports whether data is what the last successful Save wrote.
func (s *FileStore) wrote(data []byte) bool {
	sum := sha256.Sum256(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written != nil && bytes.Equal(s.written, sum[:])
}
