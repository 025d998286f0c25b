package sender

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/dccstation/internal/store"
	"github.com/KevinKickass/dccstation/internal/telegram"
	"go.uber.org/zap"
)

type Config struct {
	StartDelay        time.Duration
	LocomotivePeriod  time.Duration
	LocomotiveStagger time.Duration
	AccessoryPeriod   time.Duration
	ResetCount        int
	IdleCount         int
	IdleWhenEmpty     bool
	TelegramLength    uint8
}

func DefaultConfig() Config {
	return Config{
		StartDelay:        time.Second,
		LocomotivePeriod:  60 * time.Millisecond,
		LocomotiveStagger: time.Millisecond,
		AccessoryPeriod:   70 * time.Millisecond,
		ResetCount:        20,
		IdleCount:         10,
		TelegramLength:    telegram.Length,
	}
}

// SenderStatus describes one sender for status reporting.
type SenderStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	State   string `json:"state"`
}

// Scheduler owns one sender per locomotive slot and the accessory drain.
type Scheduler struct {
	store  *store.CommandStore
	tx     Transmitter
	cfg    Config
	logger *zap.Logger

	locomotives []*LocomotiveSender
	drain       *AccessoryDrain
}

func NewScheduler(st *store.CommandStore, tx Transmitter, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.TelegramLength == 0 {
		cfg.TelegramLength = telegram.Length
	}

	s := &Scheduler{
		store:  st,
		tx:     tx,
		cfg:    cfg,
		logger: logger,
	}

	// Phasen versetzen, damit nicht alle Sender gleichzeitig auf die Leitung wollen
	n := st.Locomotives.Len()
	for i := 0; i < n; i++ {
		delay := cfg.StartDelay + time.Duration(i)*cfg.LocomotiveStagger
		s.locomotives = append(s.locomotives,
			NewLocomotiveSender(st.Locomotives, i, tx, cfg.TelegramLength, delay, cfg.LocomotivePeriod, logger))
	}

	drainDelay := cfg.StartDelay + time.Duration(n)*cfg.LocomotiveStagger
	s.drain = NewAccessoryDrain(st.Accessories, tx, cfg.TelegramLength, cfg.IdleWhenEmpty,
		drainDelay, cfg.AccessoryPeriod, logger)

	return s
}

// Prime sends the power-up sequence: ResetCount Reset telegrams followed
// by IdleCount Idle telegrams. It must run before StartAll.
func (s *Scheduler) Prime() {
	s.burst(telegram.Reset(), s.cfg.ResetCount)
	s.burst(telegram.Idle(), s.cfg.IdleCount)

	s.logger.Info("Decoders initialized",
		zap.Int("reset", s.cfg.ResetCount),
		zap.Int("idle", s.cfg.IdleCount))
}

// ResetAll sends the Reset burst again, used when the station goes down.
func (s *Scheduler) ResetAll() {
	s.burst(telegram.Reset(), s.cfg.ResetCount)
	s.logger.Info("Decoders reset", zap.Int("count", s.cfg.ResetCount))
}

func (s *Scheduler) burst(t telegram.Telegram, count int) {
	for i := 0; i < count; i++ {
		s.tx.Transmit(t, s.cfg.TelegramLength)
	}
}

// StartAll starts all senders
func (s *Scheduler) StartAll() error {
	for _, l := range s.locomotives {
		if err := l.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", l.Name(), err)
		}
	}
	if err := s.drain.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.drain.Name(), err)
	}

	s.logger.Info("Senders started",
		zap.Int("locomotives", len(s.locomotives)),
		zap.Duration("locomotive_period", s.cfg.LocomotivePeriod),
		zap.Duration("accessory_period", s.cfg.AccessoryPeriod))

	return nil
}

// StopAll stops all senders and waits for telegrams in flight, or until
// ctx is done.
func (s *Scheduler) StopAll(ctx context.Context) error {
	stoppers := make([]interface{ Stop() }, 0, len(s.locomotives)+1)
	for _, l := range s.locomotives {
		stoppers = append(stoppers, l)
	}
	stoppers = append(stoppers, s.drain)

	var wg sync.WaitGroup
	for _, st := range stoppers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("senders did not stop: %w", ctx.Err())
	}
}

// Status lists all senders, locomotives first in slot order.
func (s *Scheduler) Status() []SenderStatus {
	out := make([]SenderStatus, 0, len(s.locomotives)+1)
	for _, l := range s.locomotives {
		out = append(out, SenderStatus{Name: l.Name(), Running: l.IsRunning(), State: l.State().String()})
	}
	out = append(out, SenderStatus{Name: s.drain.Name(), Running: s.drain.IsRunning(), State: s.drain.State().String()})

	return out
}

// Locomotive returns the sender of slot i.
func (s *Scheduler) Locomotive(i int) (*LocomotiveSender, bool) {
	if i < 0 || i >= len(s.locomotives) {
		return nil, false
	}
	return s.locomotives[i], true
}

func (s *Scheduler) Drain() *AccessoryDrain {
	return s.drain
}
