package ami

import "strings"

// Field is one Name: Value line of a wire block, stored verbatim.
type Field struct {
	Name  string
	Value string
}

// Block is one framing unit of the manager protocol: the ordered field
// lines between blank-line delimiters. Duplicate names are legitimate
// (repeated Output lines, permit rules) and keep their wire order. A Block
// is immutable once returned by the reader.
type Block struct {
	fields []Field
}

// NewBlock builds a block from ordered fields. Live blocks come from a
// BlockReader; this constructor serves tests and scripted peers.
func NewBlock(fields ...Field) Block {
	out := make([]Field, len(fields))
	copy(out, fields)
	return Block{fields: out}
}

// Len reports the number of field lines, duplicates included.
func (b Block) Len() int {
	return len(b.fields)
}

// Fields returns the ordered field pairs as a copy.
func (b Block) Fields() []Field {
	out := make([]Field, len(b.fields))
	copy(out, b.fields)
	return out
}

// Lookup returns the first value for name, matching case-insensitively,
// and whether the field was present at all.
func (b Block) Lookup(name string) (string, bool) {
	for _, f := range b.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Get returns the first value for name, or "" when absent.
func (b Block) Get(name string) string {
	v, _ := b.Lookup(name)
	return v
}

// Values returns every value for name in wire order.
func (b Block) Values(name string) []string {
	var out []string
	for _, f := range b.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether name appears at least once.
func (b Block) Has(name string) bool {
	_, ok := b.Lookup(name)
	return ok
}

// ActionID returns the correlation identifier echoed by the server, if any.
func (b Block) ActionID() string {
	return b.Get("ActionID")
}

// Event returns the event name for event-typed blocks, "" otherwise.
func (b Block) Event() string {
	return b.Get("Event")
}

// Response returns the status value for response-typed blocks, "" otherwise.
func (b Block) Response() string {
	return b.Get("Response")
}

// Message returns the free-text detail servers attach to responses.
func (b Block) Message() string {
	return b.Get("Message")
}
