package channel

import (
	"io"
	"sync"
)

// Buffer is a bounded in-process byte pipe. Writes never block and are all
// or nothing: a write that would exceed the capacity stores no byte and
// returns ErrChannelFull, so a word is never split.
type Buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	data     []byte
	capacity int
	closed   bool
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	if len(p) > b.capacity-len(b.data) {
		return 0, ErrChannelFull
	}
	if len(p) == 0 {
		return 0, nil
	}

	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return len(p), nil
}

// Read blocks until at least one byte is available. After Close the
// remaining bytes are still returned, then io.EOF.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	return b.take(p), nil
}

func (b *Buffer) TryRead(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		if b.closed {
			return 0, io.EOF
		}
		return 0, ErrNoData
	}
	return b.take(p), nil
}

func (b *Buffer) take(p []byte) int {
	n := copy(p, b.data)
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
	return n
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Close wakes up blocked readers. Further writes fail.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
