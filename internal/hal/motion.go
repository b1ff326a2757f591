package hal

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/sumobot/internal/config"
)

// DutyOff is written for speed 0. It stops the servo pulse entirely rather
// than holding the neutral position.
const DutyOff = 0

var (
	ErrInvalidSpeed     = errors.New("speed out of range [-100, 100]")
	ErrInvalidDirection = errors.New("unknown direction")
)

// Wheel selects a servo.
type Wheel int

const (
	Left Wheel = iota
	Right
)

func (w Wheel) String() string {
	if w == Left {
		return "left"
	}
	return "right"
}

// Direction is a named movement.
type Direction int

const (
	Stop Direction = iota
	TurnLeft
	TurnRight
	Forward
	Backward
)

var directionNames = map[Direction]string{
	Stop:      "stop",
	TurnLeft:  "left",
	TurnRight: "right",
	Forward:   "forward",
	Backward:  "backward",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// ParseDirection converts a direction name to a Direction.
func ParseDirection(name string) (Direction, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d, n := range directionNames {
		if n == name {
			return d, nil
		}
	}
	return Stop, fmt.Errorf("%w: %q", ErrInvalidDirection, name)
}

// wheelSpeeds is the fixed movement table. The servos are mounted mirrored,
// so driving straight counter-rotates them and turning on the spot co-rotates
// them.
var wheelSpeeds = map[Direction][2]int{
	Stop:      {0, 0},
	Forward:   {100, -100},
	Backward:  {-100, 100},
	TurnLeft:  {-100, -100},
	TurnRight: {100, 100},
}

// WheelSpeeds returns the (left, right) speeds for a direction.
func WheelSpeeds(d Direction) (left, right int, err error) {
	s, ok := wheelSpeeds[d]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidDirection, int(d))
	}
	return s[0], s[1], nil
}

// Duty maps a speed in [-100, 100] onto the calibrated duty bounds for its
// sign. The caller validates the range.
func Duty(b config.Bounds, speed int) int {
	if speed == 0 {
		return DutyOff
	}
	lo, hi := b.ForwardMin, b.ForwardMax
	if speed < 0 {
		lo, hi = b.BackwardMin, b.BackwardMax
		speed = -speed
	}
	return int(math.Round(float64(lo) + float64(speed)/100*float64(hi-lo)))
}
