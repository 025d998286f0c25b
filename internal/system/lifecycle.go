package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/dccstation/internal/api/rest"
	"github.com/KevinKickass/dccstation/internal/api/websocket"
	"github.com/KevinKickass/dccstation/internal/config"
	"github.com/KevinKickass/dccstation/internal/delivery"
	"github.com/KevinKickass/dccstation/internal/handler"
	"github.com/KevinKickass/dccstation/internal/interfaces"
	"github.com/KevinKickass/dccstation/internal/layout"
	"github.com/KevinKickass/dccstation/internal/line"
	"github.com/KevinKickass/dccstation/internal/sender"
	"github.com/KevinKickass/dccstation/internal/store"
	"go.uber.org/zap"
)

const defaultCleanupTimeout = 5 * time.Second

type Option func(*LifecycleManager)

// WithOutput replaces the output selected by line.driver.
func WithOutput(out line.Output) Option {
	return func(lm *LifecycleManager) {
		lm.output = out
	}
}

// WithClock replaces the transmitter clock.
func WithClock(clock line.Clock) Option {
	return func(lm *LifecycleManager) {
		lm.clock = clock
	}
}

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	output line.Output
	clock  line.Clock

	layout      *layout.Layout
	store       *store.CommandStore
	transmitter *line.Transmitter
	scheduler   *sender.Scheduler
	endpoints   []*endpoint
	client      *delivery.Client

	wsHub      *websocket.Hub
	restServer *rest.Server

	handlerCancel context.CancelFunc
	handlerWg     sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger, opts ...Option) *LifecycleManager {
	lm := &LifecycleManager{
		config:          cfg,
		logger:          logger,
		currentState:    StateInitializing,
		shutdownChan:    make(chan struct{}),
		statusListeners: make([]chan SystemStatus, 0),
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Start brings the station up: output line, command store, power-up
// sequence, periodic senders, command channels and the HTTP surface.
// On error everything already started is torn down again.
func (lm *LifecycleManager) Start() error {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()
	if state != StateInitializing {
		return fmt.Errorf("cannot start: system is %s", state)
	}

	lm.logger.Info("Starting DCC station",
		zap.String("line_driver", lm.config.Line.Driver),
		zap.String("channel_driver", lm.config.Channels.Driver))
	lm.broadcastStatus()

	if err := lm.start(); err != nil {
		lm.setError(err)
		lm.broadcastStatus()

		timeout := lm.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultCleanupTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if cleanupErr := lm.Shutdown(ctx); cleanupErr != nil {
			lm.logger.Error("Cleanup after failed start incomplete", zap.Error(cleanupErr))
		}
		return err
	}

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("locomotives", lm.store.Locomotives.Len()),
		zap.Int("endpoints", len(lm.endpoints)),
		zap.Bool("http_enabled", lm.config.Server.Enabled))

	return nil
}

func (lm *LifecycleManager) start() error {
	l, err := layout.Load(lm.config.Layout.Path)
	if err != nil {
		return fmt.Errorf("failed to load layout: %w", err)
	}
	lm.layout = l

	st, err := store.New(l.InitialCommands(), lm.config.Store.AccessoryCapacity)
	if err != nil {
		return fmt.Errorf("failed to build command store: %w", err)
	}
	lm.store = st

	if lm.output == nil {
		out, err := openOutput(lm.config.Line)
		if err != nil {
			return err
		}
		lm.output = out
	}
	lm.transmitter = line.NewTransmitter(lm.output, lm.clock, lineTiming(lm.config.Line), lm.logger.Named("line"))

	lm.scheduler = sender.NewScheduler(st, lm.transmitter, schedulerConfig(lm.config), lm.logger.Named("sender"))
	lm.scheduler.Prime()
	if err := lm.scheduler.StartAll(); err != nil {
		return err
	}

	lm.wsHub = websocket.NewHub(lm.logger.Named("monitor"))
	go lm.wsHub.Run()

	if err := lm.openEndpoints(); err != nil {
		return err
	}
	lm.startHandlers()

	if lm.config.Server.Enabled {
		lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("http"), lm.wsHub)
		if err := lm.restServer.Start(); err != nil {
			return fmt.Errorf("failed to start REST API: %w", err)
		}
	}

	return nil
}

func (lm *LifecycleManager) openEndpoints() error {
	// Interner Kanal für die HTTP-Schnittstelle
	mem, client := memoryEndpoint(lm.config, lm.logger.Named("delivery"))
	lm.endpoints = append(lm.endpoints, mem)
	lm.client = client

	if lm.config.Channels.Driver == "fifo" {
		fifo, err := fifoEndpoint(lm.config.Channels)
		if err != nil {
			return fmt.Errorf("failed to open command channels: %w", err)
		}
		lm.endpoints = append(lm.endpoints, fifo)
		lm.logger.Info("Command channels opened",
			zap.String("commands", lm.config.Channels.CommandPath),
			zap.String("acks", lm.config.Channels.AckPath))
	}

	return nil
}

func (lm *LifecycleManager) startHandlers() {
	ctx, cancel := context.WithCancel(context.Background())
	lm.handlerCancel = cancel

	for _, ep := range lm.endpoints {
		ep.handler = handler.New(lm.store, ep.commands, ep.acks, lm.logger.Named("handler").With(zap.String("endpoint", ep.name)))
		ep.handler.SetObserver(lm.wsHub)

		lm.handlerWg.Add(1)
		go func(h *handler.Handler) {
			defer lm.handlerWg.Done()
			if err := h.Serve(ctx); err != nil {
				lm.logger.Error("Command handler failed", zap.Error(err))
			}
		}(ep.handler)
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)
		if shutdownErr != nil {
			lm.setError(shutdownErr)
		}

		lm.setState(StateStopped)
		lm.broadcastStatus()

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// gracefulShutdown stops the producers before the line: HTTP, handlers,
// senders (waiting for frames in flight), the optional reset burst, then
// channels and output.
func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// 1. REST API Server
	if lm.restServer != nil {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}

	// 2. Command handlers
	if lm.handlerCancel != nil {
		lm.handlerCancel()

		done := make(chan struct{})
		go func() {
			lm.handlerWg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("command handlers did not stop: %w", ctx.Err()))
		}
	}

	// 3. Periodic senders
	sendersStopped := true
	if lm.scheduler != nil {
		if err := lm.scheduler.StopAll(ctx); err != nil {
			sendersStopped = false
			errs = append(errs, err)
		} else if lm.config.Scheduler.ResetOnShutdown {
			lm.scheduler.ResetAll()
		}
	}

	// 4. Channels, monitor, line
	for _, ep := range lm.endpoints {
		if err := ep.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s channels: %w", ep.name, err))
		}
	}
	if lm.wsHub != nil {
		lm.wsHub.Stop()
	}

	switch {
	case !sendersStopped:
		// a sender still owns the line
		lm.logger.Warn("Line left open, senders still transmitting")
	case lm.transmitter != nil:
		if err := lm.transmitter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing output: %w", err))
		}
	case lm.output != nil:
		lm.output.Close()
	}

	if err := errors.Join(errs...); err != nil {
		lm.logger.Warn("Shutdown incomplete", zap.Error(err))
		return err
	}

	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state change", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
	lm.lastError = err
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	status := interfaces.SystemStatus{
		State: lm.State().String(),
	}

	if lm.store != nil {
		status.Locomotives = lm.store.Locomotives.Len()
		status.QueuedAccessories = lm.store.Accessories.Len()
		status.AccessoryCapacity = lm.store.Accessories.Cap()
	}
	if lm.transmitter != nil {
		status.Line = lm.transmitter.Stats()
	}
	if lm.scheduler != nil {
		status.Senders = lm.scheduler.Status()
	}
	for _, ep := range lm.endpoints {
		if ep.handler == nil {
			continue
		}
		s := ep.handler.Stats()
		status.Commands.Accepted += s.Accepted
		status.Commands.Rejected += s.Rejected
	}

	return status
}

func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	status := SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
	}
	if lm.lastError != nil {
		status.Error = lm.lastError.Error()
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.getStatusInternal()

	if lm.wsHub != nil {
		lm.wsHub.Broadcast(websocket.NewSystemStatusMessage(status))
	}

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// HTTPAddr is the bound address of the REST server, empty when disabled.
func (lm *LifecycleManager) HTTPAddr() string {
	if lm.restServer == nil {
		return ""
	}
	return lm.restServer.Addr()
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Layout() *layout.Layout {
	return lm.layout
}

func (lm *LifecycleManager) Store() *store.CommandStore {
	return lm.store
}

// Delivery returns the client of the in-process command channel.
func (lm *LifecycleManager) Delivery() *delivery.Client {
	return lm.client
}
