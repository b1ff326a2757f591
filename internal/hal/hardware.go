// Package hal models the robot's sensors and actuators: debounced detection,
// calibrated servo speed mapping, the battery gauge and line calibration.
// Raw electrical access goes through the Hardware interface so the model can
// run against a directly attached board, the serial bridge or a fake.
package hal

import "time"

// Pin identifies a GPIO, ADC or PWM channel on the board.
type Pin int

// Hardware is the set of primitives the model needs from the board.
type Hardware interface {
	// AnalogRead returns the raw ADC value of the pin.
	AnalogRead(pin Pin) (int, error)
	// DigitalWrite drives an output pin high or low.
	DigitalWrite(pin Pin, high bool) error
	// PWMWrite sets the duty cycle of a PWM channel.
	PWMWrite(pin Pin, duty int) error
	// PulseEcho fires a trigger pulse and measures the echo pulse width. A zero
	// duration means no echo arrived within timeout.
	PulseEcho(trigger, echo Pin, timeout time.Duration) (time.Duration, error)
}

// Pinout names the pins used by the model.
type Pinout struct {
	SonarTrigger Pin
	SonarEcho    Pin
	LeftServo    Pin
	RightServo   Pin
	StatusLED    Pin
	OpponentLED  Pin
	LineLeftLED  Pin
	LineRightLED Pin
	Battery      Pin
	LineLeft     Pin
	LineRight    Pin
}

// DefaultPinout matches the stock ESP32 sumo robot board.
var DefaultPinout = Pinout{
	SonarTrigger: 27,
	SonarEcho:    14,
	LeftServo:    15,
	RightServo:   4,
	StatusLED:    5,
	OpponentLED:  16,
	LineLeftLED:  17,
	LineRightLED: 12,
	Battery:      32,
	LineLeft:     34,
	LineRight:    33,
}
