package line

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/dccstation/internal/telegram"
	"go.uber.org/zap"
)

// Timing holds the line timing of one frame.
type Timing struct {
	BitOneHalf  time.Duration
	BitZeroHalf time.Duration
	Settle      time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		BitOneHalf:  58 * time.Microsecond,
		BitZeroHalf: 100 * time.Microsecond,
		Settle:      500 * time.Microsecond,
	}
}

// FrameDuration returns how long Transmit blocks for t.
func (tm Timing) FrameDuration(t telegram.Telegram, length uint8) time.Duration {
	d := tm.Settle
	for i := uint8(0); i < clampLength(length); i++ {
		d += 2 * tm.half(t.Bit(i))
	}
	return d
}

func (tm Timing) half(bit uint8) time.Duration {
	if bit == 1 {
		return tm.BitOneHalf
	}
	return tm.BitZeroHalf
}

type Stats struct {
	FramesSent  uint64 `json:"frames_sent"`
	BitsSent    uint64 `json:"bits_sent"`
	WriteErrors uint64 `json:"write_errors"`
}

// Transmitter serializes telegrams onto the output. Only one frame is on
// the line at any time.
type Transmitter struct {
	out    Output
	clock  Clock
	timing Timing
	logger *zap.Logger

	mu sync.Mutex

	frames      atomic.Uint64
	bits        atomic.Uint64
	writeErrors atomic.Uint64
}

func NewTransmitter(out Output, clock Clock, timing Timing, logger *zap.Logger) *Transmitter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Transmitter{
		out:    out,
		clock:  clock,
		timing: timing,
		logger: logger,
	}
}

// Transmit drives the first length bits of t onto the line and blocks for
// the full frame. The line is pulled low for the settle time, each bit is a
// high half-period followed by a low half-period, and the line is left high.
// Failed writes are logged and the frame goes on.
func (tx *Transmitter) Transmit(t telegram.Telegram, length uint8) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	length = clampLength(length)

	var failed int
	var firstErr error
	set := func(v int) {
		if err := tx.out.SetValue(v); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// Deadlines are absolute from the frame start so wake-up jitter
	// does not add up over the frame.
	deadline := tx.clock.Now()

	set(0)
	deadline = deadline.Add(tx.timing.Settle)
	tx.clock.SleepUntil(deadline)

	for i := uint8(0); i < length; i++ {
		half := tx.timing.half(t.Bit(i))

		set(1)
		deadline = deadline.Add(half)
		tx.clock.SleepUntil(deadline)

		set(0)
		deadline = deadline.Add(half)
		tx.clock.SleepUntil(deadline)
	}

	set(1)

	tx.frames.Add(1)
	tx.bits.Add(uint64(length))

	if failed > 0 {
		tx.writeErrors.Add(uint64(failed))
		tx.logger.Error("Line write failed",
			zap.Int("failures", failed),
			zap.Stringer("telegram", t),
			zap.Error(firstErr))
		return
	}

	if ce := tx.logger.Check(zap.DebugLevel, "Frame sent"); ce != nil {
		ce.Write(zap.Stringer("telegram", t), zap.Uint8("bits", length))
	}
}

func (tx *Transmitter) Stats() Stats {
	return Stats{
		FramesSent:  tx.frames.Load(),
		BitsSent:    tx.bits.Load(),
		WriteErrors: tx.writeErrors.Load(),
	}
}

// Close waits for the frame in progress and releases the output.
func (tx *Transmitter) Close() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.out.Close()
}

func clampLength(length uint8) uint8 {
	if length > 64 {
		return 64
	}
	return length
}
