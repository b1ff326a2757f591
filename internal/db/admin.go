package db

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sumobot/internal/monitoring"
)

const (
	defaultChartPoints = 600
	maxChartPoints     = 10000
	defaultListLimit   = 100
)

// AttachAdminRoutes mounts the journal debug pages under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("db: tailsql unavailable: %v", err)
	} else {
		tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
			Label: "Robot journal",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("telemetry-chart", "Recent telemetry chart", http.HandlerFunc(db.handleTelemetryChart))
	debug.Handle("commands", "Recent commands (JSON)", http.HandlerFunc(db.handleCommands))
	debug.Handle("runs", "Recent program runs (JSON)", http.HandlerFunc(db.handleRuns))
	debug.Handle("backup", "Create and download a backup of the journal now", http.HandlerFunc(db.handleBackup))
}

func queryLimit(r *http.Request, def, ceiling int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= ceiling {
			return v
		}
	}
	return def
}

func (db *DB) handleTelemetryChart(w http.ResponseWriter, r *http.Request) {
	samples, err := db.RecentTelemetry(queryLimit(r, defaultChartPoints, maxChartPoints))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load telemetry: %v", err), http.StatusInternalServerError)
		return
	}

	xs := make([]string, 0, len(samples))
	distance := make([]opts.LineData, 0, len(samples))
	left := make([]opts.LineData, 0, len(samples))
	right := make([]opts.LineData, 0, len(samples))
	battery := make([]opts.LineData, 0, len(samples))
	for _, s := range samples {
		xs = append(xs, s.RecordedAt.Format("15:04:05.000"))
		distance = append(distance, opts.LineData{Value: s.Distance})
		left = append(left, opts.LineData{Value: s.LeftSpeed})
		right = append(right, opts.LineData{Value: s.RightSpeed})
		battery = append(battery, opts.LineData{Value: s.BatteryLevel})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Robot telemetry", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Telemetry", Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(xs).
		AddSeries("distance_cm", distance).
		AddSeries("left_speed", left).
		AddSeries("right_speed", right).
		AddSeries("battery_level", battery)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (db *DB) handleCommands(w http.ResponseWriter, r *http.Request) {
	records, err := db.RecentCommands(queryLimit(r, defaultListLimit, maxChartPoints))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load commands: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (db *DB) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := db.RecentRuns(queryLimit(r, defaultListLimit, maxChartPoints))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load runs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("db: failed to encode response: %v", err)
	}
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "journal-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup directory: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("backup-%d.db", db.now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("db: backup download interrupted: %v", err)
	}
}
