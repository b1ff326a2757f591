package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sumobot/internal/config"
	"github.com/banshee-data/sumobot/internal/hal"
	"github.com/banshee-data/sumobot/internal/robot"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *testRobot, *fakeJournal) {
	t.Helper()
	r := newTestRobot(t)
	j := &fakeJournal{}
	return NewDispatcher(r.Robot, DispatcherOptions{Journal: j, Logf: t.Logf}), r, j
}

func TestDispatcher_Moves(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	for _, tc := range []struct {
		payload string
		want    [2]int
	}{
		{"forward", [2]int{100, -100}},
		{"backward", [2]int{-100, 100}},
		{"left", [2]int{-100, -100}},
		{"right", [2]int{100, 100}},
		{`{"cmd":"stop"}`, [2]int{0, 0}},
	} {
		reply := d.Handle([]byte(tc.payload))
		require.IsType(t, Ack{}, reply, tc.payload)
		assert.Equal(t, tc.want, r.speeds(), tc.payload)
	}
}

func TestDispatcher_ForwardWhileRunningClearsProgram(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	reply := d.Handle([]byte(`{"cmd":"set_program","val":"robot.Move(robot.LEFT);;robot.Sleep(10000)"}`))
	require.IsType(t, Ack{}, reply)
	run := r.Begin(context.Background())
	require.NotNil(t, run)

	d.Handle([]byte("forward"))

	assert.Nil(t, r.Active())
	assert.True(t, run.Cancelled())
	assert.False(t, r.CancelPending(), "movement does not raise the stop flag")
	assert.Equal(t, [2]int{100, -100}, r.speeds())

	// A cancelled run cannot move the wheels afterwards.
	err := r.Act(run, func() error { return r.HAL.Move(hal.Backward) })
	assert.Error(t, err)
	assert.Equal(t, [2]int{100, -100}, r.speeds())
}

func TestDispatcher_StopRaisesFlag(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	d.Handle([]byte("forward"))
	d.Handle([]byte("stop"))
	assert.Equal(t, [2]int{0, 0}, r.speeds())
	assert.True(t, r.CancelPending())
}

func TestDispatcher_SyntaxErrorKeepsPreviousProgram(t *testing.T) {
	d, r, j := newTestDispatcher(t)
	reply := d.Handle([]byte(`{"cmd":"set_program","val":"robot.Move(robot.FORWARD)"}`))
	ack := reply.(Ack)
	prev := r.Active()
	require.NotNil(t, prev)
	assert.Equal(t, prev.ID, ack.Value)
	require.NoError(t, r.HAL.Move(hal.Right))

	reply = d.Handle([]byte(`{"cmd":"set_program","val":"robot.Move(robot.FORWARD"}`))
	er, ok := reply.(ErrorReply)
	require.True(t, ok, "reply = %#v", reply)
	assert.Equal(t, TypeError, er.Type)
	assert.Equal(t, KindCompile, er.Kind)
	assert.Equal(t, SetProgram, er.Cmd)

	assert.Same(t, prev, r.Active())
	assert.Equal(t, prev.Source, r.ProgramSource())
	assert.Equal(t, [2]int{100, 100}, r.speeds())

	require.Len(t, j.entries, 2)
	assert.True(t, j.entries[0].OK)
	assert.False(t, j.entries[1].OK)
	assert.Equal(t, "set_program", j.entries[1].Name)
}

func TestDispatcher_GetProgram(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	got := d.Handle([]byte("get_program")).(ProgramReply)
	assert.Equal(t, ProgramReply{Type: TypeProgram}, got)

	d.Handle([]byte(`{"cmd":"set_python_code","val":"robot.Move(robot.STOP)"}`))
	got = d.Handle([]byte("get_python_code")).(ProgramReply)
	assert.True(t, got.Active)
	assert.Equal(t, r.Active().ID, got.ID)
	assert.Contains(t, got.Source, "robot.Move(robot.STOP)")

	d.Handle([]byte("stop"))
	got = d.Handle([]byte("get_program")).(ProgramReply)
	assert.False(t, got.Active)
	assert.Contains(t, got.Source, "robot.Move(robot.STOP)", "source survives a stop")
}

func TestDispatcher_Telemetry(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	readings, err := r.HAL.Poll()
	require.NoError(t, err)
	r.SetTelemetry(readings, r.Telemetry().UpdatedAt)

	b := d.HandleJSON([]byte("get_telemetry"))
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "telemetry", m["type"])
	assert.Contains(t, m, "distance_cm")
	assert.Contains(t, m, "left_speed")
	_, isTelemetry := d.Handle([]byte("get_telemetry")).(robot.Telemetry)
	assert.True(t, isTelemetry)
}

func TestDispatcher_TelemetryReportsLiveSpeeds(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	d.Handle([]byte("forward"))
	readings, err := r.HAL.Poll()
	require.NoError(t, err)
	r.SetTelemetry(readings, r.Telemetry().UpdatedAt)

	d.Handle([]byte("stop"))
	got := d.Handle([]byte("get_telemetry")).(robot.Telemetry)
	assert.Equal(t, 0, got.LeftSpeed)
	assert.Equal(t, 0, got.RightSpeed)
	assert.Equal(t, 100, r.Telemetry().LeftSpeed, "the sampled snapshot is left alone")

	d.Handle([]byte("left"))
	got = d.Handle([]byte("get_telemetry")).(robot.Telemetry)
	assert.Equal(t, [2]int{-100, -100}, [2]int{got.LeftSpeed, got.RightSpeed})
}

func TestDispatcher_Thresholds(t *testing.T) {
	d, r, _ := newTestDispatcher(t)

	reply := d.Handle([]byte(`{"cmd":"set_line_threshold","val":"250"}`))
	assert.Equal(t, Ack{Type: TypeAck, Cmd: SetLineThreshold, Value: 250}, reply)
	reply = d.Handle([]byte(`{"cmd":"set_ultrasonic_threshold","val":25}`))
	assert.Equal(t, Ack{Type: TypeAck, Cmd: SetUltrasonicThreshold, Value: 25}, reply)

	scope := d.Handle([]byte("get_threshold_scope")).(config.Scope)
	assert.Equal(t, "config", scope.Type)
	assert.Equal(t, 250, scope.LineLeftThreshold)
	assert.Equal(t, 250, scope.LineRightThreshold)
	assert.Equal(t, 25, scope.UltrasonicThreshold)

	stored, err := config.NewFileStoreFS(calPath, r.mfs).Load()
	require.NoError(t, err)
	assert.Equal(t, 250, stored.GetLineLeftThreshold())
	assert.Equal(t, 25, stored.GetUltrasonicThreshold())

	reply = d.Handle([]byte(`{"cmd":"set_line_threshold","val":-3}`))
	assert.Equal(t, KindInvalidCommand, reply.(ErrorReply).Kind)
	reply = d.Handle([]byte(`{"cmd":"set_line_threshold"}`))
	assert.Equal(t, KindInvalidCommand, reply.(ErrorReply).Kind)
	assert.Equal(t, 250, r.HAL.Calibration().GetLineLeftThreshold())
}

func TestDispatcher_PersistFailure(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	r.mfs.WriteErr = errors.New("disk full")

	reply := d.Handle([]byte(`{"cmd":"set_ultrasonic_threshold","val":12}`))
	er := reply.(ErrorReply)
	assert.Equal(t, KindPersist, er.Kind)
	assert.Contains(t, er.Message, "disk full")
	assert.Equal(t, 12, r.HAL.Calibration().GetUltrasonicThreshold(), "memory stays authoritative")
}

func TestDispatcher_CalibrateLine(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	r.hw.SetAnalog(hal.DefaultPinout.LineLeft, 1800)
	r.hw.SetAnalog(hal.DefaultPinout.LineRight, 1700)

	scope := d.Handle([]byte("calibrate_line_value")).(config.Scope)
	assert.Equal(t, 1800, scope.LineLeftValue)
	assert.Equal(t, 1700, scope.LineRightValue)
}

func TestDispatcher_BlocklyNameVersionFeedback(t *testing.T) {
	d, r, _ := newTestDispatcher(t)

	d.Handle([]byte(`{"cmd":"set_blockly_code","val":"<xml/>"}`))
	assert.Equal(t, BlocklyReply{Type: TypeBlockly, Code: "<xml/>"}, d.Handle([]byte("get_blockly_code")))

	assert.Equal(t, Ack{Type: TypeAck, Cmd: SetName, Value: "Ninja"}, d.Handle([]byte(`{"cmd":"set_name","val":"Ninja"}`)))
	assert.Equal(t, "Ninja", r.HAL.Calibration().GetName())

	v := d.Handle([]byte("get_firmware_version")).(VersionReply)
	assert.Equal(t, TypeVersion, v.Type)
	assert.NotEmpty(t, v.Version)

	assert.Equal(t, Ack{Type: TypeAck, Cmd: ToggleSensorFeedback, Value: false}, d.Handle([]byte("toggle_sensor_feedback")))
	assert.Equal(t, Ack{Type: TypeAck, Cmd: ToggleSensorFeedback, Value: true}, d.Handle([]byte("toggle_sensor_feedback")))
}

func TestDispatcher_BadPayloads(t *testing.T) {
	d, r, j := newTestDispatcher(t)
	require.NoError(t, r.HAL.Move(hal.Forward))

	for _, tc := range []struct{ payload, kind string }{
		{"dance", KindUnknownCommand},
		{`{"cmd":"fly"}`, KindUnknownCommand},
		{`{"cmd":`, KindInvalidCommand},
		{`{"cmd":"set_name","val":{}}`, KindInvalidCommand},
	} {
		b := d.HandleJSON([]byte(tc.payload))
		var er ErrorReply
		require.NoError(t, json.Unmarshal(b, &er), tc.payload)
		assert.Equal(t, TypeError, er.Type, tc.payload)
		assert.Equal(t, tc.kind, er.Kind, tc.payload)
	}
	assert.Equal(t, [2]int{100, -100}, r.speeds(), "bad payloads leave motion alone")
	assert.Len(t, j.entries, 4)
}

func TestErrorKind_HardwareFallback(t *testing.T) {
	assert.Equal(t, KindHardware, ErrorKind(errors.New("pin 15: i/o error")))
	assert.Equal(t, KindInvalidCommand, ErrorKind(hal.ErrInvalidSpeed))
	assert.Equal(t, KindPersist, ErrorKind(&hal.PersistError{Err: errors.New("x")}))
}
