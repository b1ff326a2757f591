// Package program compiles and runs robot control programs.
//
// A program is Go source run by an embedded interpreter that has no standard
// library. The only importable package is "robot":
//
//	robot.Move(robot.FORWARD)
//	robot.Sleep(500)
//	if robot.Opponent() { robot.Drive(100, 100) }
//
// Source may be a list of statements, which becomes the body of Run, or a
// complete package main declaring func Run(). ";;" is accepted as a line
// separator so programs fit on a single line.
package program

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/traefik/yaegi/interp"

	"github.com/banshee-data/sumobot/internal/hal"
)

// ErrCancelled is returned by Run when the scope cancelled the program at a
// primitive call.
var ErrCancelled = errors.New("program cancelled")

// ErrNoScope is raised by primitives called outside Run, for example from a
// package level variable initialiser.
var ErrNoScope = errors.New("robot primitives are only available inside Run")

// Scope carries out the primitives of a running program. Every method is a
// cancellation checkpoint: once the run is cancelled it returns ErrCancelled.
// Checkpoint does nothing else; it is called at the top of every loop
// iteration and function call in the program.
type Scope interface {
	Checkpoint() error
	Move(d hal.Direction) error
	Drive(left, right int) error
	Sleep(d time.Duration) error
	Opponent() (bool, error)
	LineLeft() (bool, error)
	LineRight() (bool, error)
	Distance() (float64, error)
	Battery() (int, error)
}

// CompileError reports source that could not be turned into a Program.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string { return "compile error: " + e.Err.Error() }
func (e *CompileError) Unwrap() error { return e.Err }

// RuntimeError reports a program that failed while running.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string { return "runtime error: " + e.Err.Error() }
func (e *RuntimeError) Unwrap() error { return e.Err }

// Options configures compilation.
type Options struct {
	// Output receives anything the program prints. Nil discards it.
	Output io.Writer
}

// Program is a compiled control program. A Program may be run many times but
// not concurrently.
type Program struct {
	ID     string
	Source string

	run     func()
	binding *binding
	mu      sync.Mutex
}

// Compile validates and compiles src.
func Compile(src string, opts Options) (*Program, error) {
	src = NormaliseSource(src)
	file, err := wrap(src)
	if err != nil {
		return nil, &CompileError{Err: err}
	}
	file, err = prepare(file)
	if err != nil {
		return nil, &CompileError{Err: err}
	}

	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	b := &binding{}
	i := interp.New(interp.Options{Stdout: out, Stderr: out})
	if err := i.Use(b.exports()); err != nil {
		return nil, &CompileError{Err: err}
	}
	if err := evalFile(i, file); err != nil {
		return nil, &CompileError{Err: err}
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return nil, &CompileError{Err: fmt.Errorf("func Run not found: %w", err)}
	}
	run, ok := v.Interface().(func())
	if !ok {
		return nil, &CompileError{Err: fmt.Errorf("Run must be func(), got %s", v.Type())}
	}

	return &Program{
		ID:      uuid.NewString(),
		Source:  src,
		run:     run,
		binding: b,
	}, nil
}

// evalFile evaluates the program source, converting interpreter panics to
// errors.
func evalFile(i *interp.Interpreter, file string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", panicValue(r))
		}
	}()
	_, err = i.Eval(file)
	return err
}

// NormaliseSource turns ";;" separators into newlines and trims the source.
func NormaliseSource(src string) string {
	return strings.TrimSpace(strings.ReplaceAll(src, ";;", "\n"))
}

// Run executes the program against scope. It returns ErrCancelled when the
// scope cancelled the run and a *RuntimeError for any other failure.
func (p *Program) Run(scope Scope) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.binding.set(scope)
	defer p.binding.set(nil)

	defer func() {
		if r := recover(); r != nil {
			err = runError(r)
		}
	}()
	p.run()
	return nil
}

// checkpoint is the panic value used to unwind a program when a primitive
// fails.
type checkpoint struct {
	err error
}

func runError(r any) error {
	v := panicValue(r)
	if cp, ok := v.(checkpoint); ok {
		if errors.Is(cp.err, ErrCancelled) {
			return ErrCancelled
		}
		return &RuntimeError{Err: cp.err}
	}
	if err, ok := v.(error); ok {
		return &RuntimeError{Err: err}
	}
	return &RuntimeError{Err: fmt.Errorf("panic: %v", v)}
}

// panicValue strips the interpreter's panic wrapper.
func panicValue(r any) any {
	switch p := r.(type) {
	case interp.Panic:
		return p.Value
	case *interp.Panic:
		return p.Value
	}
	return r
}

// binding connects the interpreter's robot package to the scope of the
// current run.
type binding struct {
	mu    sync.Mutex
	scope Scope
}

func (b *binding) set(s Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scope = s
}

func (b *binding) get() Scope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scope == nil {
		panic(checkpoint{err: ErrNoScope})
	}
	return b.scope
}

func check(err error) {
	if err != nil {
		panic(checkpoint{err: err})
	}
}

func (b *binding) exports() interp.Exports {
	return interp.Exports{
		robotImportPath + "/robot": {
			"Checkpoint": reflect.ValueOf(func() {
				check(b.get().Checkpoint())
			}),
			"Move": reflect.ValueOf(func(dir int) {
				check(b.get().Move(hal.Direction(dir)))
			}),
			"Drive": reflect.ValueOf(func(left, right int) {
				check(b.get().Drive(left, right))
			}),
			"Sleep": reflect.ValueOf(func(ms int) {
				check(b.get().Sleep(time.Duration(ms) * time.Millisecond))
			}),
			"Opponent": reflect.ValueOf(func() bool {
				v, err := b.get().Opponent()
				check(err)
				return v
			}),
			"LineLeft": reflect.ValueOf(func() bool {
				v, err := b.get().LineLeft()
				check(err)
				return v
			}),
			"LineRight": reflect.ValueOf(func() bool {
				v, err := b.get().LineRight()
				check(err)
				return v
			}),
			"Distance": reflect.ValueOf(func() float64 {
				v, err := b.get().Distance()
				check(err)
				return v
			}),
			"Battery": reflect.ValueOf(func() int {
				v, err := b.get().Battery()
				check(err)
				return v
			}),

			"STOP":     reflect.ValueOf(constantInt(hal.Stop)),
			"LEFT":     reflect.ValueOf(constantInt(hal.TurnLeft)),
			"RIGHT":    reflect.ValueOf(constantInt(hal.TurnRight)),
			"FORWARD":  reflect.ValueOf(constantInt(hal.Forward)),
			"BACKWARD": reflect.ValueOf(constantInt(hal.Backward)),
		},
	}
}
