//go:build !(linux || darwin)

package channel

import (
	"errors"
	"io"
)

// FIFO is unavailable on this platform; OpenFIFO always fails.
type FIFO struct {
	io.ReadWriteCloser
}

func OpenFIFO(path string, dir Direction, nonBlocking bool) (*FIFO, error) {
	return nil, errors.New("named pipes are not supported on this platform")
}

func (f *FIFO) TryRead(p []byte) (int, error) {
	return 0, ErrNoData
}
