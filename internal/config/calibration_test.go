package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEmptyCalibration_Defaults(t *testing.T) {
	cal := EmptyCalibration()

	want := Scope{
		Type:                "config",
		Name:                "SumoRobot",
		LineLeftThreshold:   1000,
		LineRightThreshold:  1000,
		UltrasonicThreshold: 40,
		BatteryCoefficient:  2.25,
		BatteryMinVoltage:   3.2,
		BatteryMaxVoltage:   4.2,
		LeftServo:           DefaultBounds,
		RightServo:          DefaultBounds,
		SensorFeedback:      true,
	}
	if diff := cmp.Diff(want, cal.Scope()); diff != "" {
		t.Errorf("Scope() mismatch (-want +got):\n%s", diff)
	}
	if cal.HasLineBaseline() {
		t.Error("empty calibration should not have a line baseline")
	}
}

func TestCalibration_PartialJSON(t *testing.T) {
	cal := EmptyCalibration()
	data := `{"ultrasonic_threshold": 25, "left_servo": {"forward_max": 90}}`
	if err := json.Unmarshal([]byte(data), cal); err != nil {
		t.Fatal(err)
	}

	if got := cal.GetUltrasonicThreshold(); got != 25 {
		t.Errorf("GetUltrasonicThreshold() = %d, want 25", got)
	}
	left := cal.GetLeftServo()
	if left.ForwardMax != 90 || left.ForwardMin != DefaultBounds.ForwardMin {
		t.Errorf("left servo = %+v", left)
	}
	if cal.GetRightServo() != DefaultBounds {
		t.Errorf("right servo = %+v", cal.GetRightServo())
	}
}

func TestCalibration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Calibration)
		wantErr string
	}{
		{"defaults", func(*Calibration) {}, ""},
		{"negative line threshold", func(c *Calibration) { c.SetLineThreshold(-1) }, "line_left_threshold"},
		{"negative sonar", func(c *Calibration) { c.SetUltrasonicThreshold(-5) }, "ultrasonic_threshold"},
		{"zero coefficient", func(c *Calibration) { c.SetBattery(0, 3.2, 4.2) }, "battery_coeff"},
		{"inverted voltage range", func(c *Calibration) { c.SetBattery(2, 4.2, 3.2) }, "battery_min_voltage"},
		{"duty out of range", func(c *Calibration) {
			c.SetServo(true, Bounds{ForwardMin: 66, ForwardMax: 2000, BackwardMin: 66, BackwardMax: 33})
		}, "left_servo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := EmptyCalibration()
			tt.mutate(cal)
			err := cal.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestCalibration_CloneIsDeep(t *testing.T) {
	cal := EmptyCalibration()
	cal.SetServo(false, Bounds{ForwardMin: 60, ForwardMax: 95, BackwardMin: 60, BackwardMax: 30})
	cal.SetLineBaselines(1200, 1300)

	clone := cal.Clone()
	*clone.RightServo.ForwardMax = 10
	*clone.LineLeftBaseline = 1

	if cal.GetRightServo().ForwardMax != 95 {
		t.Error("clone shares servo bounds with original")
	}
	if cal.GetLineLeftBaseline() != 1200 {
		t.Error("clone shares baseline with original")
	}
}

func TestCalibration_Setters(t *testing.T) {
	cal := EmptyCalibration()
	cal.SetLineThreshold(800)
	cal.SetSensorFeedback(false)
	cal.SetName("Sumo-7")

	if cal.GetLineLeftThreshold() != 800 || cal.GetLineRightThreshold() != 800 {
		t.Error("SetLineThreshold should set both sides")
	}
	if cal.GetSensorFeedback() {
		t.Error("sensor feedback should be off")
	}
	if cal.GetName() != "Sumo-7" {
		t.Errorf("GetName() = %q", cal.GetName())
	}
}
