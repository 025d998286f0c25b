// Package handler applies command words arriving on the command channel to
// the command store and acknowledges them.
package handler

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/KevinKickass/dccstation/internal/channel"
	"github.com/KevinKickass/dccstation/internal/store"
	"github.com/KevinKickass/dccstation/internal/types"
	"go.uber.org/zap"
)

// WordSize is the size of a command word on the channels.
const WordSize = 2

// Observer is notified about every processed word.
type Observer interface {
	CommandAccepted(word types.Word)
	CommandRejected(word types.Word, err error)
}

type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

type Handler struct {
	store    *store.CommandStore
	commands channel.Reader
	acks     io.Writer
	observer Observer
	logger   *zap.Logger

	accepted atomic.Uint64
	rejected atomic.Uint64
}

func New(st *store.CommandStore, commands channel.Reader, acks io.Writer, logger *zap.Logger) *Handler {
	return &Handler{
		store:    st,
		commands: commands,
		acks:     acks,
		logger:   logger,
	}
}

// SetObserver must be called before Serve.
func (h *Handler) SetObserver(o Observer) {
	h.observer = o
}

// Serve reads command words until ctx is cancelled or the command channel
// is closed. Errors on single words are logged and the loop goes on.
func (h *Handler) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		h.commands.Close()
	})
	defer stop()

	h.logger.Info("Command handler started")

	var buf [WordSize]byte
	for {
		// a word split across reads is reassembled, dropping half of it
		// would misframe every following word
		_, err := io.ReadFull(h.commands, buf[:])

		if ctx.Err() != nil {
			h.logger.Info("Command handler stopped")
			return nil
		}

		if err != nil {
			if isClosed(err) {
				h.logger.Info("Command channel closed")
				return nil
			}
			h.logger.Error("Command channel read failed", zap.Error(err))
			continue
		}

		word := types.Word(binary.LittleEndian.Uint16(buf[:]))
		if err := h.HandleWord(word); err != nil {
			h.logError(word, err)
		}
	}
}

// HandleWord decodes word, applies it to the store and writes the ack.
// Nothing is acknowledged when the store rejects the command.
func (h *Handler) HandleWord(word types.Word) error {
	var err error

	switch word.Kind() {
	case types.KindLocomotive:
		err = h.store.Locomotives.Update(word.Locomotive())

	case types.KindAccessory:
		var updated bool
		updated, err = h.store.Accessories.EnqueueOrUpdate(word.Accessory())
		if err == nil && updated {
			h.logger.Debug("Pending accessory command replaced", zap.Stringer("word", word))
		}

	default:
		err = fmt.Errorf("kind %d: %w", word.Kind(), types.ErrUnknownMessageType)
	}

	if err != nil {
		h.rejected.Add(1)
		if h.observer != nil {
			h.observer.CommandRejected(word, err)
		}
		return err
	}

	h.accepted.Add(1)
	if h.observer != nil {
		h.observer.CommandAccepted(word)
	}

	return h.ack(word)
}

func (h *Handler) ack(word types.Word) error {
	var buf [WordSize]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(word.WithAck()))

	n, err := h.acks.Write(buf[:])
	if err != nil {
		return fmt.Errorf("%w: ack write: %v", types.ErrChannelTransport, err)
	}
	if n < WordSize {
		return fmt.Errorf("%w: short ack write (%d bytes)", types.ErrChannelTransport, n)
	}
	return nil
}

func (h *Handler) logError(word types.Word, err error) {
	fields := []zap.Field{zap.Stringer("word", word), zap.Error(err)}

	switch {
	case errors.Is(err, types.ErrChannelTransport):
		h.logger.Error("Acknowledgement not delivered", fields...)
	default:
		h.logger.Warn("Command dropped", fields...)
	}
}

func (h *Handler) Stats() Stats {
	return Stats{
		Accepted: h.accepted.Load(),
		Rejected: h.rejected.Load(),
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, channel.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}
