package ami

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// framingLogBytes bounds how much offending wire data travels in
	// error text and logs.
	framingLogBytes = 256

	bannerPrefix = "Asterisk Call Manager"
)

var (
	ErrEndOfStream   = errors.New("ami: end of stream")
	ErrTruncated     = errors.New("ami: stream truncated mid block")
	ErrFraming       = errors.New("ami: framing violation")
	ErrLineTooLong   = errors.New("ami: line exceeds limit")
	ErrBlockTooLarge = errors.New("ami: block exceeds line limit")
)

// Limits constrains reader memory use against a broken or hostile peer.
type Limits struct {
	MaxLineBytes  int
	MaxBlockLines int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:  16 * 1024,
		MaxBlockLines: 2048,
	}
}

// BlockReader assembles wire blocks from a byte stream. A partial line and
// a partially accumulated block survive deadline expiry across calls, so a
// caller that retries after a read timeout resumes exactly where the
// stream left off. End of stream on a block boundary is ErrEndOfStream;
// end of stream with a block under assembly is ErrTruncated.
type BlockReader struct {
	r       *bufio.Reader
	limits  Limits
	partial []byte
	fields  []Field
}

func NewBlockReader(r io.Reader) *BlockReader {
	return NewBlockReaderLimits(r, DefaultLimits())
}

func NewBlockReaderLimits(r io.Reader, limits Limits) *BlockReader {
	return &BlockReader{r: bufio.NewReader(r), limits: limits}
}

// ReadBanner consumes the greeting line a manager service writes on
// connect. The greeting is a bare line, not a block; it never appears
// again on the stream.
func (br *BlockReader) ReadBanner() (string, error) {
	line, err := br.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: stream ended before greeting", ErrTruncated)
		}
		return "", err
	}
	return line, nil
}

// ReadBlock returns the next complete block. Deadline errors from the
// underlying connection surface as-is with reader state retained; framing
// violations and stream truncation discard the partial block.
func (br *BlockReader) ReadBlock() (Block, error) {
	for {
		line, err := br.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(br.fields) == 0 {
					return Block{}, ErrEndOfStream
				}
				br.reset()
				return Block{}, fmt.Errorf("%w: stream ended after %d fields", ErrTruncated, len(br.fields))
			}
			if errors.Is(err, ErrTruncated) || errors.Is(err, ErrLineTooLong) {
				br.reset()
			}
			return Block{}, err
		}

		if line == "" {
			if len(br.fields) == 0 {
				// stray delimiter between blocks, tolerated
				continue
			}
			blk := Block{fields: br.fields}
			br.fields = nil
			return blk, nil
		}

		if br.limits.MaxBlockLines > 0 && len(br.fields) >= br.limits.MaxBlockLines {
			br.reset()
			return Block{}, fmt.Errorf("%w: more than %d lines", ErrBlockTooLarge, br.limits.MaxBlockLines)
		}

		name, value, ok := splitField(line)
		if !ok {
			if len(br.fields) == 0 {
				br.reset()
				return Block{}, fmt.Errorf("%w: continuation before any field: %q", ErrFraming, bounded(line))
			}
			// multi-line value, append to the previous field
			br.fields[len(br.fields)-1].Value += "\n" + line
			continue
		}
		br.fields = append(br.fields, Field{Name: name, Value: value})
	}
}

func (br *BlockReader) reset() {
	br.partial = nil
	br.fields = nil
}

// readLine returns one line with its terminator stripped. The wire uses
// CRLF; a bare LF is tolerated. Bytes of an unterminated line are kept in
// br.partial so a deadline expiry mid-line loses nothing.
func (br *BlockReader) readLine() (string, error) {
	buf := br.partial
	br.partial = nil
	for {
		chunk, err := br.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if br.limits.MaxLineBytes > 0 && len(buf) > br.limits.MaxLineBytes {
			return "", fmt.Errorf("%w: %d bytes: %q", ErrLineTooLong, len(buf), bounded(string(buf)))
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(buf) == 0 {
				return "", io.EOF
			}
			return "", fmt.Errorf("%w: unterminated line %q", ErrTruncated, bounded(string(buf)))
		}
		br.partial = buf
		return "", err
	}
	line := strings.TrimSuffix(string(buf), "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// splitField parses a Name: Value line. A field name is non-empty and
// carries no whitespace; anything else is a continuation of the previous
// value, which keeps free-text output lines containing colons from being
// misread as fields.
func splitField(line string) (string, string, bool) {
	name, rest, found := strings.Cut(line, ":")
	if !found || name == "" || strings.ContainsAny(name, " \t") {
		return "", "", false
	}
	return name, strings.TrimPrefix(rest, " "), true
}

func bounded(raw string) string {
	if len(raw) > framingLogBytes {
		return raw[:framingLogBytes]
	}
	return raw
}
