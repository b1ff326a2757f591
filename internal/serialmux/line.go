package serialmux

import "strings"

const (
	LineTypeReply   = "reply"
	LineTypeError   = "error"
	LineTypeLog     = "log"
	LineTypeUnknown = "unknown"
)

// replyOps are the request mnemonics the co-processor answers.
var replyOps = map[string]bool{"AR": true, "PE": true}

// ClassifyLine returns the kind of a line received from the co-processor.
func ClassifyLine(line string) string {
	op, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch {
	case op == "ERR":
		return LineTypeError
	case op == "LOG":
		return LineTypeLog
	case replyOps[op]:
		return LineTypeReply
	default:
		return LineTypeUnknown
	}
}

// Fields splits a line into its mnemonic and arguments.
func Fields(line string) (op string, args []string) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return "", nil
	}
	return f[0], f[1:]
}
