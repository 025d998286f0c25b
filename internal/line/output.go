package line

import (
	"errors"
	"sync"
)

// Output is a single digital output. Values are 0 (low) and 1 (high).
type Output interface {
	SetValue(v int) error
	Close() error
}

var ErrOutputClosed = errors.New("output closed")

// SimOutput is an in-memory Output used for dry runs and tests.
// It keeps the last historyLimit values written, 0 disables the history.
type SimOutput struct {
	mu           sync.Mutex
	value        int
	writes       uint64
	history      []int
	historyLimit int
	closed       bool
}

func NewSimOutput(historyLimit int) *SimOutput {
	return &SimOutput{historyLimit: historyLimit}
}

func (s *SimOutput) SetValue(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrOutputClosed
	}

	s.value = v
	s.writes++

	if s.historyLimit > 0 {
		if len(s.history) == s.historyLimit {
			s.history = s.history[1:]
		}
		s.history = append(s.history, v)
	}

	return nil
}

func (s *SimOutput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Value returns the current level of the line.
func (s *SimOutput) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *SimOutput) Writes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// History returns a copy of the recorded values, oldest first.
func (s *SimOutput) History() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, len(s.history))
	copy(out, s.history)
	return out
}

func (s *SimOutput) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
