package hal

import "fmt"

// MaxScore is the saturation value of a detection score.
const MaxScore = 5

// detectAbove is the score a channel must exceed to report a detection.
const detectAbove = 2

// Channel is a binary sensor channel.
type Channel int

const (
	Opponent Channel = iota
	LineLeft
	LineRight
	numChannels
)

func (c Channel) String() string {
	switch c {
	case Opponent:
		return "opponent"
	case LineLeft:
		return "line_left"
	case LineRight:
		return "line_right"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Detector debounces a noisy boolean. Each update moves the score one step
// towards the raw reading, bounded to [0, MaxScore]; the channel reports a
// detection while the score is above 2, so a settled channel flips only after
// three consistent readings.
type Detector struct {
	score int
}

// Update applies one raw reading and returns the debounced value.
func (d *Detector) Update(raw bool) bool {
	if raw {
		if d.score < MaxScore {
			d.score++
		}
	} else if d.score > 0 {
		d.score--
	}
	return d.Detected()
}

// Detected returns the debounced value.
func (d *Detector) Detected() bool {
	return d.score > detectAbove
}

// Score returns the current score.
func (d *Detector) Score() int {
	return d.score
}
