// Package api serves the robot's local HTTP API: status, telemetry,
// calibration, program and a command endpoint that accepts the same
// payloads as the WebSocket channel.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/sumobot/internal/command"
	"github.com/banshee-data/sumobot/internal/db"
	"github.com/banshee-data/sumobot/internal/httputil"
	"github.com/banshee-data/sumobot/internal/monitoring"
	"github.com/banshee-data/sumobot/internal/robot"
	"github.com/banshee-data/sumobot/internal/version"
)

// ANSI escape codes for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// CommandLister lists journaled commands.
type CommandLister interface {
	RecentCommands(limit int) ([]db.CommandRecord, error)
}

// Server holds the API dependencies.
type Server struct {
	robot      *robot.Robot
	dispatcher *command.Dispatcher
	commands   CommandLister
	started    time.Time
}

// NewServer creates a Server. commands may be nil when no journal is open.
func NewServer(r *robot.Robot, d *command.Dispatcher, commands CommandLister) *Server {
	return &Server{robot: r, dispatcher: d, commands: commands, started: time.Now()}
}

// Status summarises the robot.
type Status struct {
	Name       string        `json:"name"`
	Version    string        `json:"version"`
	GitSHA     string        `json:"git_sha"`
	Uptime     string        `json:"uptime"`
	Running    bool          `json:"running"`
	ProgramID  string        `json:"program_id,omitempty"`
	LeftSpeed  int           `json:"left_speed"`
	RightSpeed int           `json:"right_speed"`
	LastRun    *robot.Result `json:"last_run,omitempty"`
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.getOnly(s.showStatus))
	mux.HandleFunc("/api/telemetry", s.getOnly(s.showTelemetry))
	mux.HandleFunc("/api/config", s.getOnly(s.showConfig))
	mux.HandleFunc("/api/program", s.getOnly(s.showProgram))
	mux.HandleFunc("/api/commands", s.getOnly(s.listCommands))
	mux.HandleFunc("/api/command", s.sendCommand)
	return mux
}

func (s *Server) getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		h(w, r)
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	left, right := s.robot.HAL.Speeds()
	st := Status{
		Name:       s.robot.HAL.Calibration().GetName(),
		Version:    version.Version,
		GitSHA:     version.GitSHA,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Running:    s.robot.Running(),
		LeftSpeed:  left,
		RightSpeed: right,
		LastRun:    s.robot.LastResult(),
	}
	if p := s.robot.Active(); p != nil {
		st.ProgramID = p.ID
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) showTelemetry(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.robot.LiveTelemetry())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.robot.HAL.Calibration().Scope())
}

func (s *Server) showProgram(w http.ResponseWriter, r *http.Request) {
	reply, err := s.dispatcher.Execute(command.Command{Name: command.GetProgram})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, reply)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		httputil.NotFound(w, "command journal disabled")
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	records, err := s.commands.RecentCommands(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if records == nil {
		records = []db.CommandRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

// sendCommand accepts a command payload in the body, or in the "command"
// form field, and answers with the command's reply.
func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	var payload []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		payload = []byte(r.FormValue("command"))
	} else {
		body, err := httputil.ReadBody(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		payload = body
	}

	reply := s.dispatcher.HandleJSON(payload)
	httputil.WriteRawJSON(w, replyStatus(reply), reply)
}

func replyStatus(reply []byte) int {
	var head struct {
		Type string `json:"type"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(reply, &head); err != nil || head.Type != command.TypeError {
		return http.StatusOK
	}
	switch head.Kind {
	case command.KindPersist, command.KindHardware:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
