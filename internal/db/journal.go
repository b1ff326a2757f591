package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/robot"
)

// TelemetrySample is one recorded telemetry row.
type TelemetrySample struct {
	ID         int64     `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	hal.Readings
	Running   bool   `json:"running"`
	ProgramID string `json:"program_id,omitempty"`
}

// CommandRecord is one journaled command.
type CommandRecord struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Command    string    `json:"command"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

// RunRecord is one finished program run.
type RunRecord struct {
	ID         int64     `json:"id"`
	ProgramID  string    `json:"program_id"`
	FinishedAt time.Time `json:"finished_at"`
	Cancelled  bool      `json:"cancelled"`
	Error      string    `json:"error,omitempty"`
}

// RecordTelemetry stores a telemetry snapshot. Snapshots without a
// timestamp are stamped with the current time.
func (db *DB) RecordTelemetry(t robot.Telemetry) error {
	at := t.UpdatedAt
	if at.IsZero() {
		at = db.now()
	}
	_, err := db.Exec(`
		INSERT INTO telemetry (
			recorded_at, distance_cm, line_left_raw, line_right_raw,
			opponent, line_left, line_right, battery_level, battery_voltage,
			left_speed, right_speed, running, program_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixMilli(), t.Distance, t.LineLeftRaw, t.LineRightRaw,
		t.Opponent, t.LineLeft, t.LineRight, t.BatteryLevel, t.BatteryVoltage,
		t.LeftSpeed, t.RightSpeed, t.Running, nullString(t.ProgramID),
	)
	if err != nil {
		return fmt.Errorf("failed to record telemetry: %w", err)
	}
	return nil
}

// RecordCommand stores a handled command.
func (db *DB) RecordCommand(name string, ok bool, errMsg string) error {
	_, err := db.Exec(
		`INSERT INTO commands (received_at, command, ok, error) VALUES (?, ?, ?, ?)`,
		db.now().UnixMilli(), name, ok, nullString(errMsg),
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// RecordRun stores the outcome of a program run.
func (db *DB) RecordRun(res robot.Result) error {
	at := res.Finished
	if at.IsZero() {
		at = db.now()
	}
	_, err := db.Exec(
		`INSERT INTO program_runs (program_id, finished_at, cancelled, error) VALUES (?, ?, ?, ?)`,
		res.ProgramID, at.UnixMilli(), res.Cancelled, nullString(res.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentTelemetry returns up to limit samples, oldest first.
func (db *DB) RecentTelemetry(limit int) ([]TelemetrySample, error) {
	rows, err := db.Query(`
		SELECT * FROM (
			SELECT telemetry_id, recorded_at, distance_cm, line_left_raw, line_right_raw,
				opponent, line_left, line_right, battery_level, battery_voltage,
				left_speed, right_speed, running, program_id
			FROM telemetry
			ORDER BY recorded_at DESC, telemetry_id DESC
			LIMIT ?
		) ORDER BY recorded_at ASC, telemetry_id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []TelemetrySample
	for rows.Next() {
		var (
			s         TelemetrySample
			at        int64
			programID sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &at, &s.Distance, &s.LineLeftRaw, &s.LineRightRaw,
			&s.Opponent, &s.LineLeft, &s.LineRight, &s.BatteryLevel, &s.BatteryVoltage,
			&s.LeftSpeed, &s.RightSpeed, &s.Running, &programID,
		); err != nil {
			return nil, err
		}
		s.RecordedAt = time.UnixMilli(at).UTC()
		s.ProgramID = programID.String
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// RecentCommands returns up to limit commands, newest first.
func (db *DB) RecentCommands(limit int) ([]CommandRecord, error) {
	rows, err := db.Query(`
		SELECT command_id, received_at, command, ok, error
		FROM commands
		ORDER BY received_at DESC, command_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var (
			c      CommandRecord
			at     int64
			errMsg sql.NullString
		)
		if err := rows.Scan(&c.ID, &at, &c.Command, &c.OK, &errMsg); err != nil {
			return nil, err
		}
		c.ReceivedAt = time.UnixMilli(at).UTC()
		c.Error = errMsg.String
		records = append(records, c)
	}
	return records, rows.Err()
}

// RecentRuns returns up to limit program runs, newest first.
func (db *DB) RecentRuns(limit int) ([]RunRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, program_id, finished_at, cancelled, error
		FROM program_runs
		ORDER BY finished_at DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r      RunRecord
			at     int64
			errMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ProgramID, &at, &r.Cancelled, &errMsg); err != nil {
			return nil, err
		}
		r.FinishedAt = time.UnixMilli(at).UTC()
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PruneBefore deletes telemetry and command rows older than t and returns
// the number of rows removed.
func (db *DB) PruneBefore(t time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM telemetry WHERE recorded_at < ?`,
		`DELETE FROM commands WHERE received_at < ?`,
		`DELETE FROM program_runs WHERE finished_at < ?`,
	} {
		res, err := db.Exec(q, t.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("failed to prune journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
