package hal

import (
	"sync"
	"time"
)

// Write is one recorded output operation on a FakeHardware.
type Write struct {
	Pin     Pin
	PWM     bool
	Value   int
	Digital bool
}

// FakeHardware is an in-memory Hardware. Inputs are set by the caller and
// every output is recorded.
type FakeHardware struct {
	mu      sync.Mutex
	analog  map[Pin]int
	echo    time.Duration
	digital map[Pin]bool
	pwm     map[Pin]int
	writes  []Write
	err     error
}

// NewFakeHardware returns a FakeHardware with every input at zero and no
// echo.
func NewFakeHardware() *FakeHardware {
	return &FakeHardware{
		analog:  make(map[Pin]int),
		digital: make(map[Pin]bool),
		pwm:     make(map[Pin]int),
	}
}

// SetAnalog sets the value returned by AnalogRead for pin.
func (f *FakeHardware) SetAnalog(pin Pin, v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analog[pin] = v
}

// SetEcho sets the echo pulse width returned by PulseEcho.
func (f *FakeHardware) SetEcho(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.echo = d
}

// SetDistance sets the echo for an obstacle at cm. Zero means no echo.
func (f *FakeHardware) SetDistance(cm float64) {
	f.SetEcho(time.Duration(cm*2*soundMicrosPerCm) * time.Microsecond)
}

// SetError makes every primitive fail with err. Nil restores normal
// operation.
func (f *FakeHardware) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeHardware) AnalogRead(pin Pin) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.analog[pin], nil
}

func (f *FakeHardware) DigitalWrite(pin Pin, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.digital[pin] = high
	f.writes = append(f.writes, Write{Pin: pin, Digital: high})
	return nil
}

func (f *FakeHardware) PWMWrite(pin Pin, duty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pwm[pin] = duty
	f.writes = append(f.writes, Write{Pin: pin, PWM: true, Value: duty})
	return nil
}

func (f *FakeHardware) PulseEcho(trigger, echo Pin, timeout time.Duration) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.echo > timeout {
		return 0, nil
	}
	return f.echo, nil
}

// Digital returns the last level written to pin.
func (f *FakeHardware) Digital(pin Pin) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.digital[pin]
}

// PWM returns the last duty written to pin.
func (f *FakeHardware) PWM(pin Pin) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pwm[pin]
}

// Writes returns a copy of the recorded output operations.
func (f *FakeHardware) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// PWMWrites returns the number of PWM writes to pin.
func (f *FakeHardware) PWMWrites(pin Pin) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		if w.PWM && w.Pin == pin {
			n++
		}
	}
	return n
}

// ResetWrites clears the write log.
func (f *FakeHardware) ResetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}
