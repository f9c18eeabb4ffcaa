package ingest

import (
	"io"
	"time"
)

// IdleReader fails a read that makes no progress within the timeout. Before
// every read it pushes the deadline forward through setDeadline, so a steady
// stream of any length is accepted while a stalled one is cut off.
type IdleReader struct {
	r           io.Reader
	timeout     time.Duration
	setDeadline func(time.Time) error
	now         func() time.Time
}

// NewIdleReader wraps r. A nil setDeadline or non-positive timeout disables
// the deadline.
func NewIdleReader(r io.Reader, timeout time.Duration, setDeadline func(time.Time) error) *IdleReader {
	return &IdleReader{r: r, timeout: timeout, setDeadline: setDeadline, now: time.Now}
}

func (i *IdleReader) Read(p []byte) (int, error) {
	if i.setDeadline != nil && i.timeout > 0 {
		if err := i.setDeadline(i.now().Add(i.timeout)); err != nil {
			// The connection does not support deadlines; read without one.
			i.setDeadline = nil
		}
	}
	return i.r.Read(p)
}
