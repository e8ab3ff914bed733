package readerutils

import (
	"fmt"
	"io"
	"sync/atomic"
)

// ErrLimitExceeded is returned by a reader created with NewLimitedReader once more bytes were read than allowed.
var ErrLimitExceeded = fmt.Errorf("read limit exceeded")

type countingReader struct {
	r io.Reader
	n *atomic.Uint64
}

// NewCountingReader returns a reader that adds the number of bytes read from r to n.
func NewCountingReader(r io.Reader, n *atomic.Uint64) io.Reader {
	return &countingReader{r: r, n: n}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(uint64(n))
	return n, err
}

type limitedReader struct {
	r         io.Reader
	remaining uint64
}

// NewLimitedReader returns a reader that fails with ErrLimitExceeded when r yields more than limit bytes.
// Unlike io.LimitReader the overflow is reported instead of silently truncating the stream.
// A limit of 0 disables the check.
func NewLimitedReader(r io.Reader, limit uint64) io.Reader {
	if limit == 0 {
		return r
	}
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if uint64(n) > l.remaining {
		l.remaining = 0
		return n, ErrLimitExceeded
	}
	l.remaining -= uint64(n)
	return n, err
}
