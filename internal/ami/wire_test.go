package ami

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/pbxmon/internal/testutil/testlog"
)

// chunkReader yields at most n bytes per Read to simulate partial socket
// reads at arbitrary boundaries.
type chunkReader struct {
	data []byte
	n    int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.n
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func encodeBlocks(blocks []Block) []byte {
	var buf bytes.Buffer
	for _, blk := range blocks {
		for _, f := range blk.Fields() {
			buf.WriteString(f.Name)
			buf.WriteString(": ")
			buf.WriteString(f.Value)
			buf.WriteString("\r\n")
		}
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

func blocksEqual(a, b Block) bool {
	fa, fb := a.Fields(), b.Fields()
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}

func TestReadBlockRoundTripArbitrarySplits(t *testing.T) {
	testlog.Start(t)

	want := []Block{
		NewBlock(
			Field{Name: "Response", Value: "Success"},
			Field{Name: "ActionID", Value: "pbxmon-1"},
			Field{Name: "Message", Value: "Authentication accepted"},
		),
		NewBlock(
			Field{Name: "Event", Value: "PeerEntry"},
			Field{Name: "ObjectName", Value: "7001"},
			Field{Name: "Status", Value: "OK (7 ms)"},
			// duplicate names are legitimate and must keep wire order
			Field{Name: "Permit", Value: "10.20.0.0/255.255.0.0"},
			Field{Name: "Permit", Value: "127.0.0.1/255.255.255.255"},
		),
		NewBlock(
			Field{Name: "Event", Value: "PeerlistComplete"},
			Field{Name: "ListItems", Value: "1"},
		),
	}
	wire := encodeBlocks(want)

	for n := 1; n <= len(wire); n++ {
		br := NewBlockReader(&chunkReader{data: append([]byte(nil), wire...), n: n})
		var got []Block
		for {
			blk, err := br.ReadBlock()
			if errors.Is(err, ErrEndOfStream) {
				break
			}
			if err != nil {
				t.Fatalf("chunk %d: read block: %v", n, err)
			}
			got = append(got, blk)
		}
		if len(got) != len(want) {
			t.Fatalf("chunk %d: got %d blocks, want %d", n, len(got), len(want))
		}
		for i := range want {
			if !blocksEqual(got[i], want[i]) {
				t.Fatalf("chunk %d: block %d = %+v, want %+v", n, i, got[i].Fields(), want[i].Fields())
			}
		}
	}
}

func TestReadBlockContinuationLines(t *testing.T) {
	testlog.Start(t)

	wire := "Response: Follows\r\n" +
		"Privilege: Command\r\n" +
		"Asterisk 18.26.4 built by asterisk @ pbx01\r\n" +
		"System uptime 2 days\r\n" +
		"--END COMMAND--\r\n" +
		"\r\n"
	br := NewBlockReader(strings.NewReader(wire))
	blk, err := br.ReadBlock()
	if err != nil {
		t.Fatalf("read block: %v", err)
	}
	if blk.Len() != 2 {
		t.Fatalf("got %d fields, want 2: %+v", blk.Len(), blk.Fields())
	}
	want := "Command\nAsterisk 18.26.4 built by asterisk @ pbx01\nSystem uptime 2 days\n--END COMMAND--"
	if got := blk.Get("Privilege"); got != want {
		t.Fatalf("continuation value = %q, want %q", got, want)
	}
}

func TestReadBlockValueKeepsColons(t *testing.T) {
	testlog.Start(t)

	wire := "Contacts: 6001/sip:6001@10.20.0.31:5060\r\n\r\n"
	br := NewBlockReader(strings.NewReader(wire))
	blk, err := br.ReadBlock()
	if err != nil {
		t.Fatalf("read block: %v", err)
	}
	if got := blk.Get("Contacts"); got != "6001/sip:6001@10.20.0.31:5060" {
		t.Fatalf("value = %q", got)
	}
}

func TestReadBlockBareLFTolerated(t *testing.T) {
	testlog.Start(t)

	br := NewBlockReader(strings.NewReader("Event: Foo\nChannel: X\n\n"))
	blk, err := br.ReadBlock()
	if err != nil {
		t.Fatalf("read block: %v", err)
	}
	if blk.Get("Event") != "Foo" || blk.Get("Channel") != "X" {
		t.Fatalf("unexpected block %+v", blk.Fields())
	}
}

func TestReadBlockEndOfStreamOnBoundary(t *testing.T) {
	testlog.Start(t)

	br := NewBlockReader(strings.NewReader("Response: Success\r\n\r\n"))
	if _, err := br.ReadBlock(); err != nil {
		t.Fatalf("first block: %v", err)
	}
	if _, err := br.ReadBlock(); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestReadBlockTruncatedMidBlock(t *testing.T) {
	testlog.Start(t)

	cases := []string{
		"Event: Foo\r\nChannel: X\r\n", // fields accumulated, no delimiter
		"Event: Foo",                   // unterminated line
	}
	for _, wire := range cases {
		br := NewBlockReader(strings.NewReader(wire))
		if _, err := br.ReadBlock(); !errors.Is(err, ErrTruncated) {
			t.Fatalf("wire %q: expected ErrTruncated, got %v", wire, err)
		}
	}
}

func TestReadBlockContinuationBeforeFieldIsFraming(t *testing.T) {
	testlog.Start(t)

	br := NewBlockReader(strings.NewReader("stray free text line\r\n\r\n"))
	if _, err := br.ReadBlock(); !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestReadBlockLineLimit(t *testing.T) {
	testlog.Start(t)

	limits := Limits{MaxLineBytes: 32, MaxBlockLines: 0}
	wire := "Message: " + strings.Repeat("x", 64) + "\r\n\r\n"
	br := NewBlockReaderLimits(strings.NewReader(wire), limits)
	if _, err := br.ReadBlock(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}

func TestReadBlockLineCountLimit(t *testing.T) {
	testlog.Start(t)

	limits := Limits{MaxLineBytes: 1024, MaxBlockLines: 2}
	wire := "A: 1\r\nB: 2\r\nC: 3\r\n\r\n"
	br := NewBlockReaderLimits(strings.NewReader(wire), limits)
	if _, err := br.ReadBlock(); !errors.Is(err, ErrBlockTooLarge) {
		t.Fatalf("expected ErrBlockTooLarge, got %v", err)
	}
}

// scriptReader replays a sequence of reads; an entry with err set is
// returned once as a transient failure, the way a deadline expiry
// surfaces from a live connection.
type scriptReader struct {
	steps []scriptStep
}

type scriptStep struct {
	data string
	err  error
}

func (s *scriptReader) Read(p []byte) (int, error) {
	if len(s.steps) == 0 {
		return 0, io.EOF
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.err != nil {
		return 0, step.err
	}
	n := copy(p, step.data)
	return n, nil
}

func TestReadBlockPartialLineSurvivesReadError(t *testing.T) {
	testlog.Start(t)

	deadline := errors.New("read deadline exceeded")
	br := NewBlockReader(&scriptReader{steps: []scriptStep{
		{data: "Event: Fo"},
		{err: deadline},
		{data: "o\r\nChannel: X\r\n\r\n"},
	}})

	if _, err := br.ReadBlock(); !errors.Is(err, deadline) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	blk, err := br.ReadBlock()
	if err != nil {
		t.Fatalf("resume after deadline: %v", err)
	}
	if blk.Get("Event") != "Foo" || blk.Get("Channel") != "X" {
		t.Fatalf("resumed block lost bytes: %+v", blk.Fields())
	}
}

func TestReadBanner(t *testing.T) {
	testlog.Start(t)

	br := NewBlockReader(strings.NewReader("Asterisk Call Manager/5.0.3\r\nResponse: Success\r\n\r\n"))
	banner, err := br.ReadBanner()
	if err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if banner != "Asterisk Call Manager/5.0.3" {
		t.Fatalf("banner = %q", banner)
	}
	blk, err := br.ReadBlock()
	if err != nil {
		t.Fatalf("block after banner: %v", err)
	}
	if blk.Response() != "Success" {
		t.Fatalf("block after banner = %+v", blk.Fields())
	}
}

func TestReadBannerOnClosedStream(t *testing.T) {
	testlog.Start(t)

	br := NewBlockReader(strings.NewReader(""))
	if _, err := br.ReadBanner(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
