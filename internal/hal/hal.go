package hal

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sumobot/internal/config"
	"github.com/banshee-data/sumobot/internal/monitoring"
)

const (
	// EchoTimeout bounds a sonar measurement.
	EchoTimeout = 30 * time.Millisecond
	// ReferenceVoltage and ADCRange convert raw ADC counts to volts.
	ReferenceVoltage = 3.3
	ADCRange         = 4096
	// BatteryHysteresis is the change in percentage points needed to replace
	// a held battery level while stationary.
	BatteryHysteresis = 3
	// DefaultLineSamples is the number of ADC samples averaged per line
	// calibration.
	DefaultLineSamples = 16
)

// soundMicrosPerCm converts a round trip echo in µs to cm: µs / 2 / 29.1.
const soundMicrosPerCm = 29.1

// Options configures a HAL.
type Options struct {
	Pinout      *Pinout
	LineSamples int
	Logf        func(format string, args ...interface{})
}

// Readings is one poll of every sensor.
type Readings struct {
	Distance       float64 `json:"distance_cm"`
	LineLeftRaw    int     `json:"line_left_raw"`
	LineRightRaw   int     `json:"line_right_raw"`
	Opponent       bool    `json:"opponent"`
	LineLeft       bool    `json:"line_left"`
	LineRight      bool    `json:"line_right"`
	BatteryLevel   int     `json:"battery_level"`
	BatteryVoltage float64 `json:"battery_voltage"`
	LeftSpeed      int     `json:"left_speed"`
	RightSpeed     int     `json:"right_speed"`
}

// HAL is the sensor and actuator model. It is safe for concurrent use: the
// control loop polls it while the command channel moves the wheels and edits
// the calibration.
type HAL struct {
	hw          Hardware
	pins        Pinout
	store       config.Store
	lineSamples int
	logf        func(format string, args ...interface{})

	// saveMu orders calibration writes so the file never goes back in time.
	saveMu sync.Mutex

	mu         sync.Mutex
	cal        *config.Calibration
	detectors  [numChannels]Detector
	detected   [numChannels]bool
	indicators [numChannels]bool
	speeds     [2]int

	batteryHeld    bool
	batteryLevel   int
	batteryVoltage float64
}

// New builds a HAL around hw using the calibration in store. The wheels are
// stopped and every LED switched off. When the stored calibration has no line
// baselines the current surface is sampled and used for this run only.
func New(hw Hardware, store config.Store, opts Options) (*HAL, error) {
	cal, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}

	h := &HAL{
		hw:          hw,
		pins:        DefaultPinout,
		store:       store,
		lineSamples: opts.LineSamples,
		logf:        monitoring.Or(opts.Logf),
		cal:         cal,
	}
	if opts.Pinout != nil {
		h.pins = *opts.Pinout
	}
	if h.lineSamples <= 0 {
		h.lineSamples = DefaultLineSamples
	}

	for _, pin := range []Pin{h.pins.LeftServo, h.pins.RightServo} {
		if err := hw.PWMWrite(pin, DutyOff); err != nil {
			return nil, fmt.Errorf("failed to stop servo on pin %d: %w", pin, err)
		}
	}
	for ch := Channel(0); ch < numChannels; ch++ {
		if err := hw.DigitalWrite(h.indicatorPin(ch), false); err != nil {
			return nil, fmt.Errorf("failed to reset %s indicator: %w", ch, err)
		}
	}
	if err := h.SetStatusLED(false); err != nil {
		return nil, err
	}

	if !cal.HasLineBaseline() {
		left, right, err := h.sampleLines()
		if err != nil {
			return nil, err
		}
		cal.SetLineBaselines(left, right)
		h.logf("hal: no line baseline stored, using surface reading %d/%d", left, right)
	}
	return h, nil
}

func (h *HAL) indicatorPin(ch Channel) Pin {
	switch ch {
	case Opponent:
		return h.pins.OpponentLED
	case LineLeft:
		return h.pins.LineLeftLED
	default:
		return h.pins.LineRightLED
	}
}

// ReadDistance returns the sonar distance in cm, or 0 when no echo arrived.
func (h *HAL) ReadDistance() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readDistanceLocked()
}

func (h *HAL) readDistanceLocked() (float64, error) {
	d, err := h.hw.PulseEcho(h.pins.SonarTrigger, h.pins.SonarEcho, EchoTimeout)
	if err != nil {
		return 0, fmt.Errorf("sonar: %w", err)
	}
	us := d.Microseconds()
	if us <= 0 {
		return 0, nil
	}
	return float64(us) / 2 / soundMicrosPerCm, nil
}

// UpdateDetection feeds one raw reading into a channel and returns its
// debounced value. The channel's indicator LED follows the value while
// sensor feedback is enabled.
func (h *HAL) UpdateDetection(ch Channel, raw bool) (bool, error) {
	if ch < 0 || ch >= numChannels {
		return false, fmt.Errorf("unknown channel %d", int(ch))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updateDetectionLocked(ch, raw)
}

func (h *HAL) updateDetectionLocked(ch Channel, raw bool) (bool, error) {
	v := h.detectors[ch].Update(raw)
	h.detected[ch] = v
	return v, h.setIndicatorLocked(ch, v)
}

// setIndicatorLocked drives an indicator LED, skipping the write when the
// LED already shows the value.
func (h *HAL) setIndicatorLocked(ch Channel, on bool) error {
	if !h.cal.GetSensorFeedback() {
		on = false
	}
	if h.indicators[ch] == on {
		return nil
	}
	if err := h.hw.DigitalWrite(h.indicatorPin(ch), on); err != nil {
		return fmt.Errorf("%s indicator: %w", ch, err)
	}
	h.indicators[ch] = on
	return nil
}

func (h *HAL) refreshIndicatorsLocked() error {
	var errs []error
	for ch := Channel(0); ch < numChannels; ch++ {
		errs = append(errs, h.setIndicatorLocked(ch, h.detected[ch]))
	}
	return errors.Join(errs...)
}

// Detected returns the current debounced value of a channel.
func (h *HAL) Detected(ch Channel) bool {
	if ch < 0 || ch >= numChannels {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detected[ch]
}

// SetWheelSpeed sets one wheel to a speed in [-100, 100]. Repeating the
// current speed performs no hardware write.
func (h *HAL) SetWheelSpeed(w Wheel, speed int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setWheelSpeedLocked(w, speed)
}

func (h *HAL) setWheelSpeedLocked(w Wheel, speed int) error {
	if speed < -100 || speed > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidSpeed, speed)
	}
	if speed == h.speeds[w] {
		return nil
	}

	pin, bounds := h.pins.LeftServo, h.cal.GetLeftServo()
	if w == Right {
		pin, bounds = h.pins.RightServo, h.cal.GetRightServo()
	}
	duty := Duty(bounds, speed)
	if err := h.hw.PWMWrite(pin, duty); err != nil {
		return fmt.Errorf("%s servo on pin %d: %w", w, pin, err)
	}
	h.speeds[w] = speed
	return nil
}

// Drive sets both wheels.
func (h *HAL) Drive(left, right int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.setWheelSpeedLocked(Left, left); err != nil {
		return err
	}
	return h.setWheelSpeedLocked(Right, right)
}

// Move drives both wheels according to the movement table.
func (h *HAL) Move(d Direction) error {
	left, right, err := WheelSpeeds(d)
	if err != nil {
		return err
	}
	return h.Drive(left, right)
}

// Speeds returns the last issued wheel speeds.
func (h *HAL) Speeds() (left, right int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.speeds[Left], h.speeds[Right]
}

// BatteryLevel returns the battery charge in percent. The gauge sags under
// load, so the value is only measured while both wheels are stopped and the
// last value is held while driving.
func (h *HAL) BatteryLevel() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.updateBatteryLocked(); err != nil {
		return h.batteryLevel, err
	}
	return h.batteryLevel, nil
}

func (h *HAL) updateBatteryLocked() error {
	if h.batteryHeld && (h.speeds[Left] != 0 || h.speeds[Right] != 0) {
		return nil
	}
	raw, err := h.hw.AnalogRead(h.pins.Battery)
	if err != nil {
		return fmt.Errorf("battery: %w", err)
	}
	voltage := BatteryVoltage(h.cal.GetBatteryCoefficient(), raw)
	level := ChargeLevel(voltage, h.cal.GetBatteryMinVoltage(), h.cal.GetBatteryMaxVoltage())

	h.batteryVoltage = voltage
	if !h.batteryHeld || absInt(level-h.batteryLevel) > BatteryHysteresis {
		h.batteryLevel = level
		h.batteryHeld = true
	}
	return nil
}

// BatteryVoltage converts a raw battery ADC reading to volts.
func BatteryVoltage(coefficient float64, raw int) float64 {
	return coefficient * float64(raw) * ReferenceVoltage / ADCRange
}

// ChargeLevel rescales a voltage in [minV, maxV] to a percentage, clamped.
func ChargeLevel(voltage, minV, maxV float64) int {
	if maxV <= minV {
		return 0
	}
	level := int(math.Round((voltage - minV) / (maxV - minV) * 100))
	return min(max(level, 0), 100)
}

// CalibrateLine samples both line sensors on the current surface and stores
// the mean as the new baselines. A persistence failure is returned but the
// new baselines stay in effect.
func (h *HAL) CalibrateLine() error {
	h.mu.Lock()
	left, right, err := h.sampleLines()
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.updateCalibration(func(c *config.Calibration) {
		c.SetLineBaselines(left, right)
	})
}

func (h *HAL) sampleLines() (left, right int, err error) {
	ls := make([]float64, h.lineSamples)
	rs := make([]float64, h.lineSamples)
	for i := range ls {
		l, err := h.hw.AnalogRead(h.pins.LineLeft)
		if err != nil {
			return 0, 0, fmt.Errorf("left line sensor: %w", err)
		}
		r, err := h.hw.AnalogRead(h.pins.LineRight)
		if err != nil {
			return 0, 0, fmt.Errorf("right line sensor: %w", err)
		}
		ls[i], rs[i] = float64(l), float64(r)
	}
	return int(math.Round(stat.Mean(ls, nil))), int(math.Round(stat.Mean(rs, nil))), nil
}

// Poll reads every sensor, updates the detection channels and returns the
// readings. Errors from individual sensors are joined; the readings of the
// sensors that worked are still returned.
func (h *HAL) Poll() (Readings, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	r := Readings{}

	dist, err := h.readDistanceLocked()
	errs = append(errs, err)
	r.Distance = dist
	threshold := float64(h.cal.GetUltrasonicThreshold())
	if err == nil {
		r.Opponent, err = h.updateDetectionLocked(Opponent, dist > 0 && dist < threshold)
		errs = append(errs, err)
	} else {
		r.Opponent = h.detected[Opponent]
	}

	r.LineLeftRaw, r.LineLeft, err = h.pollLineLocked(LineLeft)
	errs = append(errs, err)
	r.LineRightRaw, r.LineRight, err = h.pollLineLocked(LineRight)
	errs = append(errs, err)

	errs = append(errs, h.updateBatteryLocked())
	r.BatteryLevel = h.batteryLevel
	r.BatteryVoltage = h.batteryVoltage
	r.LeftSpeed, r.RightSpeed = h.speeds[Left], h.speeds[Right]
	return r, errors.Join(errs...)
}

// pollLineLocked reads a line sensor. A reading further than the threshold
// from the baseline means the sensor sees the border line. Without debounce
// the channel follows the raw reading directly.
func (h *HAL) pollLineLocked(ch Channel) (int, bool, error) {
	pin, baseline, threshold := h.pins.LineLeft, h.cal.GetLineLeftBaseline(), h.cal.GetLineLeftThreshold()
	if ch == LineRight {
		pin, baseline, threshold = h.pins.LineRight, h.cal.GetLineRightBaseline(), h.cal.GetLineRightThreshold()
	}
	raw, err := h.hw.AnalogRead(pin)
	if err != nil {
		return 0, h.detected[ch], fmt.Errorf("%s sensor: %w", ch, err)
	}
	onLine := absInt(raw-baseline) > threshold
	if h.cal.GetLineDebounce() {
		v, err := h.updateDetectionLocked(ch, onLine)
		return raw, v, err
	}
	h.detected[ch] = onLine
	return raw, onLine, h.setIndicatorLocked(ch, onLine)
}

// SetStatusLED switches the status LED. The LED is wired active low.
func (h *HAL) SetStatusLED(on bool) error {
	if err := h.hw.DigitalWrite(h.pins.StatusLED, !on); err != nil {
		return fmt.Errorf("status LED: %w", err)
	}
	return nil
}

// Calibration returns a copy of the calibration in effect.
func (h *HAL) Calibration() *config.Calibration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cal.Clone()
}

// ReplaceCalibration swaps in a calibration loaded elsewhere, without
// persisting it. Baselines missing from cal are kept from the current one.
func (h *HAL) ReplaceCalibration(cal *config.Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	cal = cal.Clone()
	h.mu.Lock()
	defer h.mu.Unlock()
	if !cal.HasLineBaseline() {
		cal.SetLineBaselines(h.cal.GetLineLeftBaseline(), h.cal.GetLineRightBaseline())
	}
	h.cal = cal
	return h.refreshIndicatorsLocked()
}

// SetLineThreshold sets both line thresholds and persists the calibration.
func (h *HAL) SetLineThreshold(v int) error {
	return h.updateCalibration(func(c *config.Calibration) { c.SetLineThreshold(v) })
}

// SetUltrasonicThreshold sets the opponent distance in cm and persists the
// calibration.
func (h *HAL) SetUltrasonicThreshold(v int) error {
	return h.updateCalibration(func(c *config.Calibration) { c.SetUltrasonicThreshold(v) })
}

// SetSensorFeedback enables or disables the indicator LEDs.
func (h *HAL) SetSensorFeedback(on bool) error {
	return h.updateCalibration(func(c *config.Calibration) { c.SetSensorFeedback(on) })
}

// ToggleSensorFeedback flips the indicator LEDs and returns the new state.
func (h *HAL) ToggleSensorFeedback() (bool, error) {
	var on bool
	err := h.updateCalibration(func(c *config.Calibration) {
		on = !c.GetSensorFeedback()
		c.SetSensorFeedback(on)
	})
	return on, err
}

// SetName renames the robot.
func (h *HAL) SetName(name string) error {
	return h.updateCalibration(func(c *config.Calibration) { c.SetName(name) })
}

// PersistError reports a calibration change that took effect in memory but
// could not be saved.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string { return "failed to persist calibration: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// updateCalibration applies fn to a copy of the calibration, validates it,
// installs it and saves it. An invalid result leaves the calibration
// unchanged.
func (h *HAL) updateCalibration(fn func(*config.Calibration)) error {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	h.mu.Lock()
	next := h.cal.Clone()
	fn(next)
	if err := next.Validate(); err != nil {
		h.mu.Unlock()
		return err
	}
	h.cal = next
	err := h.refreshIndicatorsLocked()
	snapshot := next.Clone()
	h.mu.Unlock()

	if saveErr := h.store.Save(snapshot); saveErr != nil {
		return &PersistError{Err: saveErr}
	}
	return err
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
