package sender

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/dccstation/internal/telegram"
	"go.uber.org/zap"
)

// Transmitter puts one telegram on the line and blocks until it is sent.
type Transmitter interface {
	Transmit(t telegram.Telegram, length uint8)
}

// State is the step a sender is currently in.
type State int32

const (
	StateIdleWait State = iota
	StateAcquireLock
	StateEncode
	StateTransmit
	StateSleep
)

func (s State) String() string {
	switch s {
	case StateIdleWait:
		return "IDLE_WAIT"
	case StateAcquireLock:
		return "ACQUIRE_LOCK"
	case StateEncode:
		return "ENCODE"
	case StateTransmit:
		return "TRANSMIT"
	case StateSleep:
		return "SLEEP"
	default:
		return "UNKNOWN"
	}
}

// periodic runs tick once after delay and then every period until stopped.
// The stop signal is only observed between ticks, a telegram on the line
// is always finished.
type periodic struct {
	name   string
	delay  time.Duration
	period time.Duration
	tick   func()
	logger *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	stopMu   sync.Mutex
	state    atomic.Int32
}

// Start startet den zyklischen Versand
func (p *periodic) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.setState(StateIdleWait)
	p.wg.Add(1)

	go p.loop(p.stopChan)

	p.logger.Info("Sender started",
		zap.String("sender", p.name),
		zap.Duration("delay", p.delay),
		zap.Duration("period", p.period))

	return nil
}

// Stop waits until the current telegram is sent. Concurrent calls wait
// for the same shutdown.
func (p *periodic) Stop() {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stop := p.stopChan
	p.mu.Unlock()

	close(stop)
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.setState(StateIdleWait)
	p.logger.Info("Sender stopped", zap.String("sender", p.name))
}

func (p *periodic) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *periodic) State() State {
	return State(p.state.Load())
}

func (p *periodic) Name() string {
	return p.name
}

func (p *periodic) setState(s State) {
	p.state.Store(int32(s))
}

func (p *periodic) loop(stop <-chan struct{}) {
	defer p.wg.Done()

	first := time.NewTimer(p.delay)
	defer first.Stop()

	select {
	case <-stop:
		return
	case <-first.C:
	}

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		p.tick()
		p.setState(StateSleep)

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
