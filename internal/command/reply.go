package command

// Reply kinds, carried in the "type" member of every reply.
const (
	TypeTelemetry = "telemetry"
	TypeConfig    = "config"
	TypeProgram   = "program"
	TypeBlockly   = "blockly"
	TypeVersion   = "version"
	TypeAck       = "ack"
	TypeError     = "error"
)

// Error kinds.
const (
	KindCompile        = "compile"
	KindPersist        = "persist"
	KindUnknownCommand = "unknown_command"
	KindInvalidCommand = "invalid_command"
	KindHardware       = "hardware"
)

// Ack confirms a command that has no other reply.
type Ack struct {
	Type string `json:"type"`
	Cmd  Name   `json:"cmd"`
	// Value carries the outcome where there is one, such as the new
	// feedback state or the id of a newly set program.
	Value any `json:"value,omitempty"`
}

// ErrorReply reports a command that failed.
type ErrorReply struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Cmd     Name   `json:"cmd,omitempty"`
	Message string `json:"message"`
}

// ProgramReply carries the most recently set program source.
type ProgramReply struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Active bool   `json:"active"`
}

// BlocklyReply carries the stored block editor document.
type BlocklyReply struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// VersionReply identifies the firmware build.
type VersionReply struct {
	Type      string `json:"type"`
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}
