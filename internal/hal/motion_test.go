package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sumobot/internal/config"
)

func TestDuty_Boundaries(t *testing.T) {
	b := config.DefaultBounds

	tests := []struct {
		speed int
		want  int
	}{
		{0, DutyOff},
		{1, 66},
		{100, 99},
		{50, 83},
		{-1, 66},
		{-50, 50},
		{-100, 33},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Duty(b, tt.speed), "speed %d", tt.speed)
	}
}

func TestDuty_Monotonic(t *testing.T) {
	bounds := []config.Bounds{
		config.DefaultBounds,
		{ForwardMin: 520, ForwardMax: 1023, BackwardMin: 500, BackwardMax: 0},
	}
	for _, b := range bounds {
		prev := Duty(b, -100)
		for s := -99; s <= 100; s++ {
			if s == 0 {
				continue
			}
			d := Duty(b, s)
			assert.GreaterOrEqual(t, d, prev, "duty must not decrease at speed %d (%+v)", s, b)
			prev = d
		}
	}
}

func TestWheelSpeeds_Table(t *testing.T) {
	tests := []struct {
		dir         Direction
		left, right int
	}{
		{Stop, 0, 0},
		{Forward, 100, -100},
		{Backward, -100, 100},
		{TurnLeft, -100, -100},
		{TurnRight, 100, 100},
	}
	for _, tt := range tests {
		l, r, err := WheelSpeeds(tt.dir)
		require.NoError(t, err)
		assert.Equal(t, [2]int{tt.left, tt.right}, [2]int{l, r}, tt.dir.String())
	}

	_, _, err := WheelSpeeds(Direction(42))
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" Forward ")
	require.NoError(t, err)
	assert.Equal(t, Forward, d)

	d, err = ParseDirection("left")
	require.NoError(t, err)
	assert.Equal(t, TurnLeft, d)

	_, err = ParseDirection("forwards")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}
