package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/pbxmon/internal/ami"
)

// parseActionLine parses an interactive command of the form
// "Action Key=Value Key=Value ...". Values may carry spaces when the
// whole pair is the line's tail; quoting is not supported on this
// prompt, so only the final pair may contain unescaped spaces.
func parseActionLine(line string) (string, []ami.Field, error) {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	action := parts[0]
	if strings.Contains(action, "=") {
		return "", nil, fmt.Errorf("action name missing before %q", action)
	}
	var fields []ami.Field
	for _, part := range parts[1:] {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			if len(fields) == 0 {
				return "", nil, fmt.Errorf("field %q is not Name=Value", part)
			}
			fields[len(fields)-1].Value += " " + part
			continue
		}
		if name == "" {
			return "", nil, fmt.Errorf("field %q is not Name=Value", part)
		}
		fields = append(fields, ami.Field{Name: name, Value: value})
	}
	return action, fields, nil
}

// fieldList collects repeated -field flags.
type fieldList []ami.Field

func (f *fieldList) String() string {
	parts := make([]string, 0, len(*f))
	for _, field := range *f {
		parts = append(parts, field.Name+"="+field.Value)
	}
	return strings.Join(parts, ",")
}

func (f *fieldList) Set(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("field %q is not Name=Value", raw)
	}
	*f = append(*f, ami.Field{Name: strings.TrimSpace(name), Value: value})
	return nil
}
