package pbx

import (
	"strings"

	"github.com/danmuck/pbxmon/internal/ami"
)

const commandTrailer = "--END COMMAND--"

// CommandOutput extracts the CLI text from a Command response. Two wire
// shapes exist: modern servers repeat an Output field per line, legacy
// servers answer Response: Follows with the raw text as continuation
// lines and a trailer.
func CommandOutput(res ami.Result) string {
	if lines := res.Response.Values("Output"); len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	if !strings.EqualFold(res.Response.Response(), "Follows") {
		return ""
	}
	fields := res.Response.Fields()
	if len(fields) == 0 {
		return ""
	}
	// the raw text rides as continuations of the last field's value;
	// the first segment is that field's own value
	lines := strings.Split(fields[len(fields)-1].Value, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == commandTrailer {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
