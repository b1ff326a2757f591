package db

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/robot"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.now = func() time.Time { return epoch }
	return db
}

func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestOpen_AppliesPragmasAndMigrations(t *testing.T) {
	db := openTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)
}

func TestOpen_ExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.RecordCommand("stop", true, ""))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	records, err := db.RecentCommands(10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = db.RecentRuns(1)
	assert.Error(t, err, "program_runs is gone")
	require.NoError(t, db.MigrateUp())
}

func TestRecordTelemetry(t *testing.T) {
	db := openTestDB(t)
	for i := range 5 {
		require.NoError(t, db.RecordTelemetry(robot.Telemetry{
			Type: "telemetry",
			Readings: hal.Readings{
				Distance:     float64(10 * i),
				Opponent:     i%2 == 0,
				BatteryLevel: 80,
				LeftSpeed:    100,
				RightSpeed:   -100,
			},
			Running:   i == 4,
			ProgramID: map[bool]string{true: "p-1"}[i == 4],
			UpdatedAt: epoch.Add(time.Duration(i) * time.Second),
		}))
	}

	samples, err := db.RecentTelemetry(3)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, epoch.Add(2*time.Second), samples[0].RecordedAt, "oldest of the window first")
	last := samples[2]
	want := TelemetrySample{
		ID:         5,
		RecordedAt: epoch.Add(4 * time.Second),
		Readings:   hal.Readings{Distance: 40, Opponent: true, BatteryLevel: 80, LeftSpeed: 100, RightSpeed: -100},
		Running:    true,
		ProgramID:  "p-1",
	}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("sample mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordTelemetry_StampsMissingTime(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordTelemetry(robot.Telemetry{}))
	samples, err := db.RecentTelemetry(1)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, epoch, samples[0].RecordedAt)
}

func TestRecordCommandAndRun(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordCommand("forward", true, ""))
	require.NoError(t, db.RecordCommand("set_program", false, "compile error: 1:5: expected operand"))
	require.NoError(t, db.RecordRun(robot.Result{ProgramID: "abc", Cancelled: true, Error: "program cancelled", Finished: epoch}))

	records, err := db.RecentCommands(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "set_program", records[0].Command, "newest first")
	assert.False(t, records[0].OK)
	assert.Contains(t, records[0].Error, "compile error")
	assert.True(t, records[1].OK)
	assert.Empty(t, records[1].Error)

	runs, err := db.RecentRuns(10)
	require.NoError(t, err)
	assert.Equal(t, []RunRecord{{ID: 1, ProgramID: "abc", FinishedAt: epoch, Cancelled: true, Error: "program cancelled"}}, runs)
}

func TestPruneBefore(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordTelemetry(robot.Telemetry{UpdatedAt: epoch.Add(-time.Hour)}))
	require.NoError(t, db.RecordTelemetry(robot.Telemetry{UpdatedAt: epoch.Add(time.Hour)}))
	db.now = func() time.Time { return epoch.Add(-2 * time.Hour) }
	require.NoError(t, db.RecordCommand("stop", true, ""))

	n, err := db.PruneBefore(epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	samples, err := db.RecentTelemetry(10)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordTelemetry(robot.Telemetry{Readings: hal.Readings{Distance: 12.5}, UpdatedAt: epoch}))
	require.NoError(t, db.RecordCommand("left", true, ""))
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	t.Run("chart", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/telemetry-chart?limit=50"))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "distance_cm")
	})

	t.Run("commands", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/commands"))
		require.Equal(t, http.StatusOK, rec.Code)
		var got []CommandRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "left", got[0].Command)
	})

	t.Run("backup", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/backup"))
		require.Equal(t, http.StatusOK, rec.Code)
		gz, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		data, err := io.ReadAll(gz)
		require.NoError(t, err)
		assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
	})

	t.Run("non-local rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/debug/commands", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.NotEqual(t, http.StatusOK, rec.Code)
	})
}
