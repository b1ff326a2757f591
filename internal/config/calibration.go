package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid calibration")

// Hardware duty limits for the 10-bit servo PWM channels.
const (
	MaxDuty = 1023
	MinDuty = 0
)

// ServoBounds holds the duty cycle at the slowest (Min) and fastest (Max)
// speed for each direction of one wheel. Backward bounds normally decrease
// from the neutral duty.
type ServoBounds struct {
	ForwardMin  *int `json:"forward_min,omitempty"`
	ForwardMax  *int `json:"forward_max,omitempty"`
	BackwardMin *int `json:"backward_min,omitempty"`
	BackwardMax *int `json:"backward_max,omitempty"`
}

// Bounds is the resolved form of ServoBounds with defaults applied.
type Bounds struct {
	ForwardMin  int `json:"forward_min"`
	ForwardMax  int `json:"forward_max"`
	BackwardMin int `json:"backward_min"`
	BackwardMax int `json:"backward_max"`
}

// DefaultBounds maps speeds onto 33..99 around the 66 neutral of the stock
// continuous rotation servos.
var DefaultBounds = Bounds{ForwardMin: 66, ForwardMax: 99, BackwardMin: 66, BackwardMax: 33}

// Calibration is the persisted robot calibration. Every field is optional in
// the JSON file; the Get* methods supply defaults for missing keys.
type Calibration struct {
	Name *string `json:"name,omitempty"`

	// Line sensors
	LineLeftBaseline   *int  `json:"line_left_value,omitempty"`
	LineRightBaseline  *int  `json:"line_right_value,omitempty"`
	LineLeftThreshold  *int  `json:"line_left_threshold,omitempty"`
	LineRightThreshold *int  `json:"line_right_threshold,omitempty"`
	LineDebounce       *bool `json:"line_debounce,omitempty"`

	// Sonar
	UltrasonicThreshold *int `json:"ultrasonic_threshold,omitempty"`

	// Battery gauge
	BatteryCoefficient *float64 `json:"battery_coeff,omitempty"`
	BatteryMinVoltage  *float64 `json:"battery_min_voltage,omitempty"`
	BatteryMaxVoltage  *float64 `json:"battery_max_voltage,omitempty"`

	// Servos
	LeftServo  *ServoBounds `json:"left_servo,omitempty"`
	RightServo *ServoBounds `json:"right_servo,omitempty"`

	SensorFeedback *bool `json:"sensor_feedback,omitempty"`
}

// Helper functions to create pointers
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// EmptyCalibration returns a Calibration with all fields unset, so every
// getter returns its default.
func EmptyCalibration() *Calibration {
	return &Calibration{}
}

// Clone returns a deep copy.
func (c *Calibration) Clone() *Calibration {
	data, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("calibration is not serialisable: %v", err))
	}
	out := EmptyCalibration()
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("calibration round trip failed: %v", err))
	}
	return out
}

// Validate checks that the configured values are usable.
func (c *Calibration) Validate() error {
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"line_left_threshold", c.LineLeftThreshold},
		{"line_right_threshold", c.LineRightThreshold},
		{"ultrasonic_threshold", c.UltrasonicThreshold},
		{"line_left_value", c.LineLeftBaseline},
		{"line_right_value", c.LineRightBaseline},
	} {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %d", ErrInvalid, f.name, *f.v)
		}
	}

	if c.BatteryCoefficient != nil && *c.BatteryCoefficient <= 0 {
		return fmt.Errorf("%w: battery_coeff must be positive, got %f", ErrInvalid, *c.BatteryCoefficient)
	}
	if lo, hi := c.GetBatteryMinVoltage(), c.GetBatteryMaxVoltage(); lo >= hi {
		return fmt.Errorf("%w: battery_min_voltage (%.2f) must be below battery_max_voltage (%.2f)", ErrInvalid, lo, hi)
	}

	for i, b := range []Bounds{c.GetLeftServo(), c.GetRightServo()} {
		wheel := [...]string{"left_servo", "right_servo"}[i]
		for _, d := range []int{b.ForwardMin, b.ForwardMax, b.BackwardMin, b.BackwardMax} {
			if d < MinDuty || d > MaxDuty {
				return fmt.Errorf("%w: %s duty %d outside %d..%d", ErrInvalid, wheel, d, MinDuty, MaxDuty)
			}
		}
	}
	return nil
}

// GetName returns the robot name or the default.
func (c *Calibration) GetName() string {
	if c.Name == nil || *c.Name == "" {
		return "SumoRobot"
	}
	return *c.Name
}

// GetLineLeftBaseline returns the left line sensor reading of the field
// surface, or 0 when it was never captured.
func (c *Calibration) GetLineLeftBaseline() int {
	if c.LineLeftBaseline == nil {
		return 0
	}
	return *c.LineLeftBaseline
}

// GetLineRightBaseline returns the right line sensor reading of the field
// surface, or 0 when it was never captured.
func (c *Calibration) GetLineRightBaseline() int {
	if c.LineRightBaseline == nil {
		return 0
	}
	return *c.LineRightBaseline
}

// HasLineBaseline reports whether both baselines were captured.
func (c *Calibration) HasLineBaseline() bool {
	return c.LineLeftBaseline != nil && c.LineRightBaseline != nil
}

// GetLineLeftThreshold returns the left line deviation threshold or the default.
func (c *Calibration) GetLineLeftThreshold() int {
	if c.LineLeftThreshold == nil {
		return 1000
	}
	return *c.LineLeftThreshold
}

// GetLineRightThreshold returns the right line deviation threshold or the default.
func (c *Calibration) GetLineRightThreshold() int {
	if c.LineRightThreshold == nil {
		return 1000
	}
	return *c.LineRightThreshold
}

// GetLineDebounce reports whether line channels use the detection score.
func (c *Calibration) GetLineDebounce() bool {
	if c.LineDebounce == nil {
		return false
	}
	return *c.LineDebounce
}

// GetUltrasonicThreshold returns the opponent distance threshold in cm.
func (c *Calibration) GetUltrasonicThreshold() int {
	if c.UltrasonicThreshold == nil {
		return 40
	}
	return *c.UltrasonicThreshold
}

// GetBatteryCoefficient returns the resistor ladder ratio.
func (c *Calibration) GetBatteryCoefficient() float64 {
	if c.BatteryCoefficient == nil {
		return 2.25
	}
	return *c.BatteryCoefficient
}

// GetBatteryMinVoltage returns the voltage reported as 0 %.
func (c *Calibration) GetBatteryMinVoltage() float64 {
	if c.BatteryMinVoltage == nil {
		return 3.2
	}
	return *c.BatteryMinVoltage
}

// GetBatteryMaxVoltage returns the voltage reported as 100 %.
func (c *Calibration) GetBatteryMaxVoltage() float64 {
	if c.BatteryMaxVoltage == nil {
		return 4.2
	}
	return *c.BatteryMaxVoltage
}

// GetSensorFeedback reports whether the indicator LEDs mirror detections.
func (c *Calibration) GetSensorFeedback() bool {
	if c.SensorFeedback == nil {
		return true
	}
	return *c.SensorFeedback
}

// GetLeftServo returns the resolved left wheel duty bounds.
func (c *Calibration) GetLeftServo() Bounds {
	return c.LeftServo.resolve()
}

// GetRightServo returns the resolved right wheel duty bounds.
func (c *Calibration) GetRightServo() Bounds {
	return c.RightServo.resolve()
}

func (s *ServoBounds) resolve() Bounds {
	b := DefaultBounds
	if s == nil {
		return b
	}
	if s.ForwardMin != nil {
		b.ForwardMin = *s.ForwardMin
	}
	if s.ForwardMax != nil {
		b.ForwardMax = *s.ForwardMax
	}
	if s.BackwardMin != nil {
		b.BackwardMin = *s.BackwardMin
	}
	if s.BackwardMax != nil {
		b.BackwardMax = *s.BackwardMax
	}
	return b
}

// SetLineThreshold sets the same threshold on both line sensors.
func (c *Calibration) SetLineThreshold(v int) {
	c.LineLeftThreshold = ptrInt(v)
	c.LineRightThreshold = ptrInt(v)
}

// SetLineBaselines records the field surface readings.
func (c *Calibration) SetLineBaselines(left, right int) {
	c.LineLeftBaseline = ptrInt(left)
	c.LineRightBaseline = ptrInt(right)
}

// SetUltrasonicThreshold sets the opponent distance threshold in cm.
func (c *Calibration) SetUltrasonicThreshold(v int) {
	c.UltrasonicThreshold = ptrInt(v)
}

// SetSensorFeedback enables or disables the indicator LEDs.
func (c *Calibration) SetSensorFeedback(on bool) {
	c.SensorFeedback = ptrBool(on)
}

// SetName sets the robot name.
func (c *Calibration) SetName(name string) {
	c.Name = ptrString(name)
}

// SetServo replaces the bounds for one wheel.
func (c *Calibration) SetServo(left bool, b Bounds) {
	s := &ServoBounds{
		ForwardMin:  ptrInt(b.ForwardMin),
		ForwardMax:  ptrInt(b.ForwardMax),
		BackwardMin: ptrInt(b.BackwardMin),
		BackwardMax: ptrInt(b.BackwardMax),
	}
	if left {
		c.LeftServo = s
	} else {
		c.RightServo = s
	}
}

// SetBattery sets the battery gauge parameters.
func (c *Calibration) SetBattery(coefficient, minVoltage, maxVoltage float64) {
	c.BatteryCoefficient = ptrFloat64(coefficient)
	c.BatteryMinVoltage = ptrFloat64(minVoltage)
	c.BatteryMaxVoltage = ptrFloat64(maxVoltage)
}

// Scope is the resolved calibration as reported to remote clients.
type Scope struct {
	Type                string  `json:"type"`
	Name                string  `json:"name"`
	LineLeftValue       int     `json:"line_left_value"`
	LineRightValue      int     `json:"line_right_value"`
	LineLeftThreshold   int     `json:"line_left_threshold"`
	LineRightThreshold  int     `json:"line_right_threshold"`
	LineDebounce        bool    `json:"line_debounce"`
	UltrasonicThreshold int     `json:"ultrasonic_threshold"`
	BatteryCoefficient  float64 `json:"battery_coeff"`
	BatteryMinVoltage   float64 `json:"battery_min_voltage"`
	BatteryMaxVoltage   float64 `json:"battery_max_voltage"`
	LeftServo           Bounds  `json:"left_servo"`
	RightServo          Bounds  `json:"right_servo"`
	SensorFeedback      bool    `json:"sensor_feedback"`
}

// Scope resolves every field.
func (c *Calibration) Scope() Scope {
	return Scope{
		Type:                "config",
		Name:                c.GetName(),
		LineLeftValue:       c.GetLineLeftBaseline(),
		LineRightValue:      c.GetLineRightBaseline(),
		LineLeftThreshold:   c.GetLineLeftThreshold(),
		LineRightThreshold:  c.GetLineRightThreshold(),
		LineDebounce:        c.GetLineDebounce(),
		UltrasonicThreshold: c.GetUltrasonicThreshold(),
		BatteryCoefficient:  c.GetBatteryCoefficient(),
		BatteryMinVoltage:   c.GetBatteryMinVoltage(),
		BatteryMaxVoltage:   c.GetBatteryMaxVoltage(),
		LeftServo:           c.GetLeftServo(),
		RightServo:          c.GetRightServo(),
		SensorFeedback:      c.GetSensorFeedback(),
	}
}
