package ami

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrActionRequired = errors.New("ami: action name required")
	ErrFieldInvalid   = errors.New("ami: invalid request field")
)

// Action is one named request in wire form. Fields keep caller order on
// the wire; some actions are sensitive to it.
type Action struct {
	Name   string
	ID     string
	Fields []Field
}

// Encode renders the CRLF wire form: the action line, the correlation
// line when an ID is set, caller fields in order, and the blank-line
// terminator.
func (a Action) Encode() ([]byte, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return nil, ErrActionRequired
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Action: %s\r\n", name)
	if id := strings.TrimSpace(a.ID); id != "" {
		fmt.Fprintf(&buf, "ActionID: %s\r\n", id)
	}
	for _, f := range a.Fields {
		if err := validateField(f); err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", f.Name, f.Value)
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}

// validateField rejects names and values that would smuggle extra lines
// into the frame. Request values are single-line on this protocol; only
// responses carry multi-line payloads.
func validateField(f Field) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrFieldInvalid)
	}
	if strings.ContainsAny(f.Name, ": \t\r\n") {
		return fmt.Errorf("%w: name %q", ErrFieldInvalid, f.Name)
	}
	if strings.ContainsAny(f.Value, "\r\n") {
		return fmt.Errorf("%w: value for %q contains a line break", ErrFieldInvalid, f.Name)
	}
	return nil
}
