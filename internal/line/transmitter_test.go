package line

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/dccstation/internal/telegram"
	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeClock jumps straight to every deadline.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SleepUntil(deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline.After(c.now) {
		c.now = deadline
	}
}

type edge struct {
	value int
	at    time.Time
}

// recordingOutput timestamps every write with the fake clock.
type recordingOutput struct {
	clock  *fakeClock
	edges  []edge
	failOn int // 1-based write index that fails, 0 never
	closed bool
}

func (r *recordingOutput) SetValue(v int) error {
	r.edges = append(r.edges, edge{value: v, at: r.clock.Now()})
	if r.failOn > 0 && len(r.edges) == r.failOn {
		return errors.New("line busy")
	}
	return nil
}

func (r *recordingOutput) Close() error {
	r.closed = true
	return nil
}

func newTestTransmitter(t *testing.T) (*Transmitter, *recordingOutput, *fakeClock) {
	clock := newFakeClock()
	out := &recordingOutput{clock: clock}
	return NewTransmitter(out, clock, DefaultTiming(), zaptest.NewLogger(t)), out, clock
}

func TestTransmit_Waveform(t *testing.T) {
	tx, out, clock := newTestTransmitter(t)
	start := clock.Now()
	tg := telegram.EncodeLocomotive(types.LocomotiveCommand{Address: 3, Speed: 7, Direction: types.Forward})

	tx.Transmit(tg, telegram.Length)

	// settle low, high+low per bit, final high
	require.Len(t, out.edges, 2+2*int(telegram.Length))
	assert.Equal(t, edge{value: 0, at: start}, out.edges[0])

	at := start.Add(500 * time.Microsecond)
	for i := uint8(0); i < telegram.Length; i++ {
		half := 100 * time.Microsecond
		if tg.Bit(i) == 1 {
			half = 58 * time.Microsecond
		}

		hi := out.edges[1+2*int(i)]
		lo := out.edges[2+2*int(i)]
		assert.Equal(t, edge{value: 1, at: at}, hi, "bit %d rising edge", i)
		assert.Equal(t, edge{value: 0, at: at.Add(half)}, lo, "bit %d falling edge", i)
		at = at.Add(2 * half)
	}

	last := out.edges[len(out.edges)-1]
	assert.Equal(t, 1, last.value, "line must idle high")
	assert.Equal(t, DefaultTiming().FrameDuration(tg, telegram.Length), clock.Now().Sub(start))
}

func TestTransmit_IdleFrameDuration(t *testing.T) {
	tx, _, clock := newTestTransmitter(t)
	start := clock.Now()

	tx.Transmit(telegram.Idle(), telegram.Length)

	// Idle: 14 preamble + 8 address + 8 checksum + stop are ones, 3 start + 8 command are zeros.
	ones, zeros := 31, 11
	expected := 500*time.Microsecond +
		time.Duration(ones)*116*time.Microsecond +
		time.Duration(zeros)*200*time.Microsecond
	assert.Equal(t, expected, clock.Now().Sub(start))
}

func TestTransmit_ZeroLength(t *testing.T) {
	tx, out, _ := newTestTransmitter(t)

	tx.Transmit(telegram.Idle(), 0)

	require.Len(t, out.edges, 2)
	assert.Equal(t, 0, out.edges[0].value)
	assert.Equal(t, 1, out.edges[1].value)
	assert.Equal(t, Stats{FramesSent: 1}, tx.Stats())
}

func TestTransmit_WriteErrorDoesNotAbortFrame(t *testing.T) {
	tx, out, _ := newTestTransmitter(t)
	out.failOn = 5

	tx.Transmit(telegram.Reset(), telegram.Length)

	assert.Len(t, out.edges, 2+2*int(telegram.Length))
	assert.Equal(t, Stats{FramesSent: 1, BitsSent: uint64(telegram.Length), WriteErrors: 1}, tx.Stats())

	// the mutex was released
	tx.Transmit(telegram.Reset(), telegram.Length)
	assert.Equal(t, uint64(2), tx.Stats().FramesSent)
}

func TestTransmit_FramesDoNotInterleave(t *testing.T) {
	out := NewSimOutput(1024)
	tx := NewTransmitter(out, newFakeClock(), DefaultTiming(), zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for _, tg := range []telegram.Telegram{telegram.Idle(), telegram.Reset(), telegram.Idle()} {
		wg.Add(1)
		go func(tg telegram.Telegram) {
			defer wg.Done()
			tx.Transmit(tg, telegram.Length)
		}(tg)
	}
	wg.Wait()

	// Every frame has the same level sequence, so any interleaving
	// shows up as a broken repetition.
	frame := []int{0}
	for i := uint8(0); i < telegram.Length; i++ {
		frame = append(frame, 1, 0)
	}
	frame = append(frame, 1)

	history := out.History()
	require.Len(t, history, 3*len(frame))
	for n := 0; n < 3; n++ {
		assert.Equal(t, frame, history[n*len(frame):(n+1)*len(frame)])
	}
	assert.Equal(t, uint64(3), tx.Stats().FramesSent)
	assert.Equal(t, 1, out.Value())
}

func TestTransmitter_Close(t *testing.T) {
	tx, out, _ := newTestTransmitter(t)

	require.NoError(t, tx.Close())
	assert.True(t, out.closed)
}

func TestSimOutput(t *testing.T) {
	out := NewSimOutput(2)

	require.NoError(t, out.SetValue(1))
	require.NoError(t, out.SetValue(0))
	require.NoError(t, out.SetValue(1))

	assert.Equal(t, []int{0, 1}, out.History())
	assert.Equal(t, uint64(3), out.Writes())
	assert.Equal(t, 1, out.Value())

	require.NoError(t, out.Close())
	assert.ErrorIs(t, out.SetValue(0), ErrOutputClosed)
	assert.True(t, out.Closed())
}

func TestSystemClock_SleepUntil(t *testing.T) {
	var c SystemClock
	deadline := c.Now().Add(2 * time.Millisecond)

	c.SleepUntil(deadline)

	assert.False(t, c.Now().Before(deadline))
}
