// Package weights infers the architecture of a network from its decompressed
// text weights file. The file carries a version line followed by one line per
// tensor; filter and block counts are derived from the line shapes.
package weights

import (
	"errors"
	"fmt"
	"io"
)

// ErrMalformedWeights is returned when the stream matches no known layout.
var ErrMalformedWeights = errors.New("malformed weights")

const (
	inputPlanes  = 18
	boardPoints  = 361
	policyOutput = boardPoints + 1
	valueHidden  = 256

	// MaxBlocks bounds how many residual blocks a file may describe.
	MaxBlocks = 128

	headerLines   = 4 // input convolution
	linesPerBlock = 8 // two convolutions per residual block
	policyLines   = 6
	valueLines    = 8
	fixedLines    = headerLines + policyLines + valueLines
	maxTensorRows = fixedLines + linesPerBlock*MaxBlocks
	maxVersionLen = 8
)

// Architecture describes a network by its filter and residual block counts.
type Architecture struct {
	Filters int `json:"filters"`
	Blocks  int `json:"blocks"`
}

func (a Architecture) String() string {
	return fmt.Sprintf("%dx%d", a.Filters, a.Blocks)
}

// Codec is an io.Writer that consumes a weights file incrementally. Only the
// number of values on each line is retained.
type Codec struct {
	version []byte
	line    int
	tokens  int
	inToken bool
	counts  []int
	err     error
	closed  bool
}

// NewCodec returns a codec ready to receive the decompressed stream.
func NewCodec() *Codec {
	return &Codec{counts: make([]int, 0, fixedLines+linesPerBlock*20)}
}

// Write implements io.Writer. It fails fast on bytes that cannot belong to a
// weights file.
func (c *Codec) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.closed {
		return 0, fmt.Errorf("%w: write after close", ErrMalformedWeights)
	}
	for i, b := range p {
		if err := c.consume(b); err != nil {
			c.err = err
			return i, err
		}
	}
	return len(p), nil
}

func (c *Codec) consume(b byte) error {
	switch {
	case b == '\n':
		return c.endLine()
	case b == ' ' || b == '\t' || b == '\r':
		c.inToken = false
		return nil
	case isNumeric(b):
		if c.line == 0 {
			if len(c.version) >= maxVersionLen {
				return fmt.Errorf("%w: version line too long", ErrMalformedWeights)
			}
			c.version = append(c.version, b)
		}
		if !c.inToken {
			c.inToken = true
			c.tokens++
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected byte %q on line %d", ErrMalformedWeights, b, c.line+1)
	}
}

func (c *Codec) endLine() error {
	defer func() {
		c.line++
		c.tokens = 0
		c.inToken = false
	}()
	if c.line == 0 {
		v := string(c.version)
		if v != "1" && v != "2" {
			return fmt.Errorf("%w: unsupported version %q", ErrMalformedWeights, v)
		}
		return nil
	}
	if len(c.counts) >= maxTensorRows {
		return fmt.Errorf("%w: more than %d residual blocks", ErrMalformedWeights, MaxBlocks)
	}
	// Blank lines are recorded as zero; only trailing ones survive Close.
	c.counts = append(c.counts, c.tokens)
	return nil
}

// Close finishes the stream and validates its shape.
func (c *Codec) Close() error {
	if c.closed {
		return c.err
	}
	c.closed = true
	if c.err != nil {
		return c.err
	}
	if c.tokens > 0 || c.line == 0 {
		if err := c.endLine(); err != nil {
			c.err = err
			return err
		}
	}
	for len(c.counts) > 0 && c.counts[len(c.counts)-1] == 0 {
		c.counts = c.counts[:len(c.counts)-1]
	}
	if _, err := infer(c.counts); err != nil {
		c.err = err
		return err
	}
	return nil
}

// Architecture returns the inferred architecture. It is only valid after a
// successful Close.
func (c *Codec) Architecture() (Architecture, error) {
	if !c.closed {
		return Architecture{}, errors.New("weights codec not closed")
	}
	if c.err != nil {
		return Architecture{}, c.err
	}
	return infer(c.counts)
}

// Parse reads a complete decompressed weights file from r.
func Parse(r io.Reader) (Architecture, error) {
	c := NewCodec()
	if _, err := io.Copy(c, r); err != nil {
		return Architecture{}, err
	}
	if err := c.Close(); err != nil {
		return Architecture{}, err
	}
	return c.Architecture()
}

func infer(counts []int) (Architecture, error) {
	n := len(counts)
	if n < fixedLines || (n-fixedLines)%linesPerBlock != 0 {
		return Architecture{}, fmt.Errorf("%w: %d tensor lines", ErrMalformedWeights, n)
	}
	filters := counts[1]
	if filters <= 0 {
		return Architecture{}, fmt.Errorf("%w: no filters", ErrMalformedWeights)
	}
	arch := Architecture{Filters: filters, Blocks: (n - fixedLines) / linesPerBlock}

	want := expectedShape(arch)
	for i, got := range counts {
		if got != want[i] {
			return Architecture{}, fmt.Errorf("%w: line %d has %d values, want %d for %s",
				ErrMalformedWeights, i+2, got, want[i], arch)
		}
	}
	return arch, nil
}

func expectedShape(a Architecture) []int {
	f := a.Filters
	conv := func(in int) []int { return []int{in * f * 9, f, f, f} }

	shape := make([]int, 0, fixedLines+linesPerBlock*a.Blocks)
	shape = append(shape, conv(inputPlanes)...)
	for i := 0; i < a.Blocks; i++ {
		shape = append(shape, conv(f)...)
		shape = append(shape, conv(f)...)
	}
	shape = append(shape,
		2*f, 2, 2, 2,
		2*boardPoints*policyOutput, policyOutput,
	)
	shape = append(shape,
		f, 1, 1, 1,
		boardPoints*valueHidden, valueHidden,
		valueHidden, 1,
	)
	return shape
}

func isNumeric(b byte) bool {
	return (b >= '0' && b <= '9') || b == '.' || b == '-' || b == '+' || b == 'e' || b == 'E'
}
