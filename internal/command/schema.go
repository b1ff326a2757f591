// Package command decodes remote commands, applies them to the robot and
// runs the receive loop over the WebSocket transport.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownCommand is returned for a well-formed payload naming no
	// known command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidCommand is returned for a payload that cannot be decoded or
	// whose value does not fit the command.
	ErrInvalidCommand = errors.New("invalid command")
)

// Name identifies a command.
type Name string

const (
	Forward                Name = "forward"
	Backward               Name = "backward"
	Left                   Name = "left"
	Right                  Name = "right"
	Stop                   Name = "stop"
	SetProgram             Name = "set_program"
	GetProgram             Name = "get_program"
	GetTelemetry           Name = "get_telemetry"
	GetConfig              Name = "get_config"
	CalibrateLine          Name = "calibrate_line"
	SetLineThreshold       Name = "set_line_threshold"
	SetUltrasonicThreshold Name = "set_ultrasonic_threshold"
	SetBlockly             Name = "set_blockly_code"
	GetBlockly             Name = "get_blockly_code"
	GetVersion             Name = "get_version"
	ToggleSensorFeedback   Name = "toggle_sensor_feedback"
	SetName                Name = "set_name"
)

// names maps every accepted spelling, including the names used by older
// browser clients, to its command.
var names = map[string]Name{
	"forward":                  Forward,
	"backward":                 Backward,
	"left":                     Left,
	"right":                    Right,
	"stop":                     Stop,
	"set_program":              SetProgram,
	"set_python_code":          SetProgram,
	"get_program":              GetProgram,
	"get_python_code":          GetProgram,
	"get_telemetry":            GetTelemetry,
	"get_sensor_scope":         GetTelemetry,
	"get_config":               GetConfig,
	"get_threshold_scope":      GetConfig,
	"calibrate_line":           CalibrateLine,
	"calibrate_line_value":     CalibrateLine,
	"set_line_threshold":       SetLineThreshold,
	"set_ultrasonic_threshold": SetUltrasonicThreshold,
	"set_blockly_code":         SetBlockly,
	"get_blockly_code":         GetBlockly,
	"get_version":              GetVersion,
	"get_firmware_version":     GetVersion,
	"toggle_sensor_feedback":   ToggleSensorFeedback,
	"set_name":                 SetName,
}

// LookupName resolves a command word or alias. Matching is exact after
// trimming and lower-casing.
func LookupName(s string) (Name, bool) {
	n, ok := names[strings.ToLower(strings.TrimSpace(s))]
	return n, ok
}

// Command is a decoded command.
type Command struct {
	Name Name
	// Val is the raw "val" member, nil when absent.
	Val json.RawMessage
	// Repeat asks set_program to keep the program active after each pass.
	Repeat bool
}

type wireCommand struct {
	Cmd    string          `json:"cmd"`
	Val    json.RawMessage `json:"val,omitempty"`
	Repeat bool            `json:"repeat,omitempty"`
}

// Parse decodes a payload: either a JSON object {"cmd": ..., "val": ...} or
// a bare command word.
func Parse(data []byte) (Command, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Command{}, fmt.Errorf("%w: empty payload", ErrInvalidCommand)
	}

	if data[0] != '{' {
		word := string(data)
		if strings.ContainsAny(word, " \t\r\n") {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(word))
		}
		n, ok := LookupName(word)
		if !ok {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(word))
		}
		return Command{Name: n}, nil
	}

	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if w.Cmd == "" {
		return Command{}, fmt.Errorf("%w: missing cmd", ErrInvalidCommand)
	}
	n, ok := LookupName(w.Cmd)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(w.Cmd))
	}
	c := Command{Name: n, Repeat: w.Repeat}
	if len(w.Val) > 0 && !bytes.Equal(w.Val, []byte("null")) {
		c.Val = w.Val
	}
	return c, nil
}

// String returns the value as text. Numbers are accepted and formatted.
func (c Command) String() (string, error) {
	if c.Val == nil {
		return "", fmt.Errorf("%w: %s needs a value", ErrInvalidCommand, c.Name)
	}
	var s string
	if err := json.Unmarshal(c.Val, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(c.Val, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: %s value must be a string", ErrInvalidCommand, c.Name)
}

// Int returns the value as an integer. Numeric strings are accepted, since
// browser clients send form values as text.
func (c Command) Int() (int, error) {
	if c.Val == nil {
		return 0, fmt.Errorf("%w: %s needs a value", ErrInvalidCommand, c.Name)
	}
	var n int
	if err := json.Unmarshal(c.Val, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(c.Val, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %s value must be an integer, got %s", ErrInvalidCommand, c.Name, truncate(string(c.Val)))
}

func truncate(s string) string {
	const limit = 64
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
