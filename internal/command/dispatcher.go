package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/sumobot/internal/config"
	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/monitoring"
	"github.com/banshee-data/sumobot/internal/program"
	"github.com/banshee-data/sumobot/internal/robot"
	"github.com/banshee-data/sumobot/internal/version"
)

// Journal records handled commands.
type Journal interface {
	RecordCommand(name string, ok bool, errMsg string) error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// ProgramOutput receives what programs print. Defaults to io.Discard.
	ProgramOutput io.Writer
	Journal       Journal
	Logf          func(format string, args ...interface{})
}

// Dispatcher applies commands to the robot and builds their replies. It is
// safe for concurrent use; the WebSocket channel and the HTTP API share one.
type Dispatcher struct {
	robot   *robot.Robot
	output  io.Writer
	journal Journal
	logf    func(format string, args ...interface{})
}

// NewDispatcher creates a Dispatcher for r.
func NewDispatcher(r *robot.Robot, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		robot:   r,
		output:  opts.ProgramOutput,
		journal: opts.Journal,
		logf:    monitoring.Or(opts.Logf),
	}
	if d.output == nil {
		d.output = io.Discard
	}
	return d
}

// Handle decodes and executes one payload and returns the reply to send.
// Failures are turned into an ErrorReply; Handle never fails itself.
func (d *Dispatcher) Handle(payload []byte) any {
	cmd, err := Parse(payload)
	if err != nil {
		d.logf("command: rejected payload: %v", err)
		d.record(cmd.Name, err)
		return errorReply(cmd.Name, err)
	}
	reply, err := d.Execute(cmd)
	d.record(cmd.Name, err)
	if err != nil {
		d.logf("command: %s failed: %v", cmd.Name, err)
		return errorReply(cmd.Name, err)
	}
	return reply
}

// HandleJSON is Handle with the reply encoded.
func (d *Dispatcher) HandleJSON(payload []byte) []byte {
	b, err := json.Marshal(d.Handle(payload))
	if err != nil {
		// Replies are plain structs; this only fires on a programming error.
		d.logf("command: failed to encode reply: %v", err)
		b, _ = json.Marshal(ErrorReply{Type: TypeError, Kind: KindInvalidCommand, Message: err.Error()})
	}
	return b
}

// Execute applies a decoded command.
func (d *Dispatcher) Execute(cmd Command) (any, error) {
	r := d.robot
	switch cmd.Name {
	case Forward, Backward, Left, Right:
		dir, err := hal.ParseDirection(string(cmd.Name))
		if err != nil {
			return nil, err
		}
		if err := r.Interrupt(false, func() error { return r.HAL.Move(dir) }); err != nil {
			return nil, err
		}
		return d.ack(cmd, nil), nil

	case Stop:
		if err := r.Stop(); err != nil {
			return nil, err
		}
		return d.ack(cmd, nil), nil

	case SetProgram:
		src, err := cmd.String()
		if err != nil {
			return nil, err
		}
		p, err := program.Compile(src, program.Options{Output: d.output})
		if err != nil {
			return nil, err
		}
		r.SetProgram(p, cmd.Repeat)
		d.logf("command: program %s set (repeat=%t)", p.ID, cmd.Repeat)
		return d.ack(cmd, p.ID), nil

	case GetProgram:
		reply := ProgramReply{Type: TypeProgram, Source: r.ProgramSource()}
		if p := r.Active(); p != nil {
			reply.ID = p.ID
			reply.Active = true
		}
		return reply, nil

	case GetTelemetry:
		return r.LiveTelemetry(), nil

	case GetConfig:
		return r.HAL.Calibration().Scope(), nil

	case CalibrateLine:
		if err := r.HAL.CalibrateLine(); err != nil {
			return nil, err
		}
		return r.HAL.Calibration().Scope(), nil

	case SetLineThreshold:
		v, err := cmd.Int()
		if err != nil {
			return nil, err
		}
		if err := r.HAL.SetLineThreshold(v); err != nil {
			return nil, err
		}
		return d.ack(cmd, v), nil

	case SetUltrasonicThreshold:
		v, err := cmd.Int()
		if err != nil {
			return nil, err
		}
		if err := r.HAL.SetUltrasonicThreshold(v); err != nil {
			return nil, err
		}
		return d.ack(cmd, v), nil

	case SetBlockly:
		doc, err := cmd.String()
		if err != nil {
			return nil, err
		}
		r.SetBlockly(doc)
		return d.ack(cmd, nil), nil

	case GetBlockly:
		return BlocklyReply{Type: TypeBlockly, Code: r.Blockly()}, nil

	case GetVersion:
		return VersionReply{
			Type:      TypeVersion,
			Version:   version.Version,
			GitSHA:    version.GitSHA,
			BuildTime: version.BuildTime,
		}, nil

	case ToggleSensorFeedback:
		on, err := r.HAL.ToggleSensorFeedback()
		if err != nil {
			return nil, err
		}
		return d.ack(cmd, on), nil

	case SetName:
		name, err := cmd.String()
		if err != nil {
			return nil, err
		}
		if err := r.HAL.SetName(name); err != nil {
			return nil, err
		}
		return d.ack(cmd, name), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
}

func (d *Dispatcher) ack(cmd Command, value any) Ack {
	return Ack{Type: TypeAck, Cmd: cmd.Name, Value: value}
}

func (d *Dispatcher) record(name Name, err error) {
	if d.journal == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if name == "" {
		name = "invalid"
	}
	if jerr := d.journal.RecordCommand(string(name), err == nil, msg); jerr != nil {
		d.logf("command: failed to journal %s: %v", name, jerr)
	}
}

// ErrorKind classifies err for an ErrorReply.
func ErrorKind(err error) string {
	var compileErr *program.CompileError
	var persistErr *hal.PersistError
	switch {
	case errors.As(err, &compileErr):
		return KindCompile
	case errors.As(err, &persistErr):
		return KindPersist
	case errors.Is(err, ErrUnknownCommand):
		return KindUnknownCommand
	case errors.Is(err, ErrInvalidCommand),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, hal.ErrInvalidSpeed),
		errors.Is(err, hal.ErrInvalidDirection):
		return KindInvalidCommand
	default:
		return KindHardware
	}
}

func errorReply(name Name, err error) ErrorReply {
	return ErrorReply{Type: TypeError, Kind: ErrorKind(err), Cmd: name, Message: err.Error()}
}
