// Package channel provides the two unidirectional byte streams between the
// control process and the station: commands in, acknowledgements out.
package channel

import (
	"errors"
	"io"
)

const DefaultCapacity = 1024

var (
	// ErrNoData is returned by a non-blocking read on an empty channel.
	ErrNoData = errors.New("no data available")
	// ErrChannelFull is returned when a write does not fit the buffer.
	ErrChannelFull = errors.New("channel full")
	ErrClosed      = errors.New("channel closed")
)

// Reader is the receiving end. Read blocks until data is available or the
// channel is closed.
type Reader interface {
	io.Reader
	io.Closer
}

// TryReader is a Reader that also supports a non-blocking read returning
// ErrNoData when nothing is buffered.
type TryReader interface {
	Reader
	TryRead(p []byte) (int, error)
}

type Writer interface {
	io.Writer
	io.Closer
}

type Direction int

const (
	DirRead Direction = iota
	DirWrite
)

func (d Direction) String() string {
	if d == DirWrite {
		return "write"
	}
	return "read"
}
