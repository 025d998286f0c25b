// Package delivery sends command words to the station and waits for their
// acknowledgement.
package delivery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/KevinKickass/dccstation/internal/channel"
	"github.com/KevinKickass/dccstation/internal/types"
	"go.uber.org/zap"
)

const (
	DefaultGrace    = 50 * time.Millisecond
	DefaultAttempts = 3

	wordSize = 2
	// upper bound for stale acks discarded before a transaction
	maxDrain = channel.DefaultCapacity / wordSize
)

// AckReader is the non-blocking receiving end of the ack channel.
type AckReader interface {
	TryRead(p []byte) (int, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Options struct {
	Grace    time.Duration
	Attempts int
	Sleeper  Sleeper
}

type Client struct {
	commands io.Writer
	acks     AckReader
	grace    time.Duration
	attempts int
	sleep    Sleeper
	logger   *zap.Logger

	// one transaction at a time, acks carry no transaction ID
	mu sync.Mutex
}

func NewClient(commands io.Writer, acks AckReader, opts Options, logger *zap.Logger) *Client {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Sleeper == nil {
		opts.Sleeper = SleepContext
	}

	return &Client{
		commands: commands,
		acks:     acks,
		grace:    opts.Grace,
		attempts: opts.Attempts,
		sleep:    opts.Sleeper,
		logger:   logger,
	}
}

// Send delivers word with the configured number of attempts.
func (c *Client) Send(ctx context.Context, word types.Word) error {
	return c.SendWithAck(ctx, word, c.attempts)
}

// SendWithAck writes word and checks for its acknowledgement after the grace
// interval, up to attempts times. It returns ErrDeliveryTimeout when no
// matching ack arrived.
func (c *Client) SendWithAck(ctx context.Context, word types.Word, attempts int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if attempts <= 0 {
		attempts = 1
	}

	if n := c.drainStale(); n > 0 {
		c.logger.Debug("Discarded stale acknowledgements", zap.Int("count", n))
	}

	var buf [wordSize]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(word))

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := c.commands.Write(buf[:]); err != nil {
			if !errors.Is(err, channel.ErrChannelFull) {
				return fmt.Errorf("%w: command write: %v", types.ErrChannelTransport, err)
			}
			c.logger.Warn("Command channel full",
				zap.Stringer("word", word),
				zap.Int("attempt", attempt))
		}

		if err := c.sleep(ctx, c.grace); err != nil {
			return err
		}

		ack, ok := c.readAck()
		if ok && word.AcknowledgedBy(ack) {
			c.logger.Debug("Command acknowledged",
				zap.Stringer("word", word),
				zap.Int("attempt", attempt))
			return nil
		}

		// Abfrage ohne passende Quittung
		c.logger.Debug("No acknowledgement",
			zap.Stringer("word", word),
			zap.Int("attempt", attempt),
			zap.Bool("received", ok))
	}

	return fmt.Errorf("word 0x%04X after %d attempts: %w", uint16(word), attempts, types.ErrDeliveryTimeout)
}

// SendLocomotive validates and delivers a locomotive command.
func (c *Client) SendLocomotive(ctx context.Context, cmd types.LocomotiveCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return c.Send(ctx, cmd.Word())
}

// SendAccessory validates and delivers an accessory command.
func (c *Client) SendAccessory(ctx context.Context, cmd types.AccessoryCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return c.Send(ctx, cmd.Word())
}

func (c *Client) readAck() (types.Word, bool) {
	var buf [wordSize]byte
	n, err := c.acks.TryRead(buf[:])
	if err != nil || n < wordSize {
		return 0, false
	}
	return types.Word(binary.LittleEndian.Uint16(buf[:])), true
}

func (c *Client) drainStale() int {
	var n int
	for ; n < maxDrain; n++ {
		if _, ok := c.readAck(); !ok {
			break
		}
	}
	return n
}
