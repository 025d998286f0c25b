//go:build linux || darwin

package channel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FIFO is one end of a named pipe.
//
// Blocking ends go through *os.File so Close interrupts a pending Read.
// Non-blocking ends use the raw descriptor: an empty pipe reads as
// ErrNoData and a full pipe writes as ErrChannelFull.
type FIFO struct {
	path string
	dir  Direction
	file *os.File
	fd   int
}

// OpenFIFO creates the named pipe at path if needed and opens one end of
// it. Write ends and blocking read ends are opened read-write, so opening
// never waits for the peer and a disappearing peer is not an EOF.
func OpenFIFO(path string, dir Direction, nonBlocking bool) (*FIFO, error) {
	if err := ensureFIFO(path); err != nil {
		return nil, err
	}

	f := &FIFO{path: path, dir: dir, fd: -1}

	if !nonBlocking {
		file, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("open fifo %s: %w", path, err)
		}
		f.file = file
		return f, nil
	}

	flags := unix.O_RDONLY
	if dir == DirWrite {
		flags = unix.O_RDWR
	}
	fd, err := unix.Open(path, flags|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open fifo %s: %w", path, err)
	}
	f.fd = fd

	return f, nil
}

func ensureFIFO(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create fifo directory: %w", err)
	}

	err := unix.Mkfifo(path, 0o660)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%s exists and is not a named pipe", path)
	}
	return nil
}

func (f *FIFO) Path() string {
	return f.path
}

// Read blocks on a blocking end. On a non-blocking end it behaves like
// TryRead.
func (f *FIFO) Read(p []byte) (int, error) {
	if f.file != nil {
		return f.file.Read(p)
	}
	return f.TryRead(p)
}

func (f *FIFO) TryRead(p []byte) (int, error) {
	if f.file != nil {
		return 0, fmt.Errorf("fifo %s was opened blocking", f.path)
	}

	n, err := unix.Read(f.fd, p)
	switch {
	case errors.Is(err, unix.EAGAIN):
		return 0, ErrNoData
	case err != nil:
		return 0, err
	case n == 0:
		// no writer attached
		return 0, ErrNoData
	}
	return n, nil
}

func (f *FIFO) Write(p []byte) (int, error) {
	if f.file != nil {
		return f.file.Write(p)
	}

	n, err := unix.Write(f.fd, p)
	if errors.Is(err, unix.EAGAIN) {
		return 0, ErrChannelFull
	}
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Close may be called more than once: the handler closes the command end to
// stop a pending Read, the owner closes it again on teardown.
func (f *FIFO) Close() error {
	if f.file != nil {
		if err := f.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	}
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return err
}
