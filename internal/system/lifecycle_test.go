package system

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/dccstation/internal/config"
	"github.com/KevinKickass/dccstation/internal/interfaces"
	"github.com/KevinKickass/dccstation/internal/line"
	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const testLayout = `
locomotives:
  - {alias: loc3, address: 3, direction: forward, light: true}
  - {alias: loc2, address: 2}
accessories:
  - {alias: switch0, address: 0, device: 0}
`

// instantClock never waits, frames take no time.
type instantClock struct{}

func (instantClock) Now() time.Time         { return time.Now() }
func (instantClock) SleepUntil(_ time.Time) {}

// gatedOutput blocks every write once armed until release is closed.
type gatedOutput struct {
	*line.SimOutput
	armed   atomic.Bool
	waiting atomic.Bool
	release chan struct{}
}

func (g *gatedOutput) SetValue(v int) error {
	if g.armed.Load() {
		g.waiting.Store(true)
		<-g.release
	}
	return g.SimOutput.SetValue(v)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testLayout), 0o600))

	cfg.Layout.Path = path
	cfg.Line.Driver = "sim"
	cfg.Channels.Driver = "memory"
	cfg.Server.Enabled = false
	cfg.Server.HTTPPort = 0
	// senders stay quiet unless a test shortens this
	cfg.Scheduler.StartDelay = time.Hour
	cfg.Scheduler.ResetCount = 2
	cfg.Scheduler.IdleCount = 1
	cfg.Delivery.Grace = 20 * time.Millisecond
	return cfg
}

func startStation(t *testing.T, cfg *config.Config) (*LifecycleManager, *line.SimOutput) {
	t.Helper()
	out := line.NewSimOutput(0)
	lm := NewLifecycleManager(cfg, zaptest.NewLogger(t), WithOutput(out), WithClock(instantClock{}))
	require.NoError(t, lm.Start())
	t.Cleanup(func() {
		lm.Shutdown(context.Background())
	})
	return lm, out
}

func TestLifecycle_StartAndShutdown(t *testing.T) {
	lm, out := startStation(t, testConfig(t))

	assert.Equal(t, StateRunning, lm.State())
	status := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", status.State)
	assert.Equal(t, 2, status.Locomotives)
	assert.Equal(t, 4, status.AccessoryCapacity)
	// reset and idle burst
	assert.Equal(t, uint64(3), status.Line.FramesSent)
	assert.Len(t, status.Senders, 3)

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
	// reset on shutdown
	assert.Equal(t, uint64(5), lm.GetCurrentStatus().Line.FramesSent)
	assert.True(t, out.Closed())

	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed after Shutdown")
	}

	// second shutdown is a no-op
	assert.NoError(t, lm.Shutdown(context.Background()))
}

func TestLifecycle_NoResetOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.ResetOnShutdown = false
	lm, _ := startStation(t, cfg)

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, uint64(3), lm.GetCurrentStatus().Line.FramesSent)
}

func TestLifecycle_ShutdownKeepsLineWhileSendersBusy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.StartDelay = time.Millisecond
	cfg.Scheduler.LocomotivePeriod = 5 * time.Millisecond

	out := &gatedOutput{SimOutput: line.NewSimOutput(0), release: make(chan struct{})}
	// senders log their stop after the test body returns
	lm := NewLifecycleManager(cfg, zap.NewNop(), WithOutput(out), WithClock(instantClock{}))
	require.NoError(t, lm.Start())

	out.armed.Store(true)
	require.Eventually(t, out.waiting.Load, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, lm.Shutdown(ctx))
	assert.False(t, out.Closed())

	// the frame in flight completes on an open line
	close(out.release)
	assert.Eventually(t, func() bool {
		for _, st := range lm.GetCurrentStatus().Senders {
			if st.Running {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
	require.NoError(t, out.Close())
}

func TestLifecycle_DeliveryThroughMemoryChannel(t *testing.T) {
	lm, _ := startStation(t, testConfig(t))
	ctx := context.Background()

	cmd := types.LocomotiveCommand{Address: 3, Speed: 7, Direction: types.Forward}
	require.NoError(t, lm.Delivery().SendLocomotive(ctx, cmd))

	slots := lm.Store().Locomotives
	i, ok := slots.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, cmd, slots.Load(i))

	err := lm.Delivery().SendLocomotive(ctx, types.LocomotiveCommand{Address: 9})
	assert.ErrorIs(t, err, types.ErrDeliveryTimeout)

	// three attempts, each rejected
	assert.Eventually(t, func() bool {
		return lm.GetCurrentStatus().Commands.Rejected == 3
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, lm.GetCurrentStatus().Commands.Accepted, uint64(1))
}

func TestLifecycle_SendersTransmit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.StartDelay = 5 * time.Millisecond
	cfg.Scheduler.LocomotivePeriod = 5 * time.Millisecond
	cfg.Scheduler.AccessoryPeriod = 5 * time.Millisecond
	lm, _ := startStation(t, cfg)

	_, err := lm.Store().Accessories.EnqueueOrUpdate(types.AccessoryCommand{Address: 0, Device: 0, Enable: true})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return lm.GetCurrentStatus().Line.FramesSent > 10 && lm.Store().Accessories.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)

	for _, s := range lm.GetCurrentStatus().Senders {
		assert.True(t, s.Running, s.Name)
	}
}

func TestLifecycle_HTTP(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = true
	lm, _ := startStation(t, cfg)

	addr := lm.HTTPAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/api/v1/system/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status interfaces.SystemStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "RUNNING", status.State)
	assert.Equal(t, 2, status.Locomotives)
}

func TestLifecycle_StartErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Layout.Path = filepath.Join(t.TempDir(), "missing.yaml")

	out := line.NewSimOutput(0)
	lm := NewLifecycleManager(cfg, zaptest.NewLogger(t), WithOutput(out), WithClock(instantClock{}))
	assert.Error(t, lm.Start())
	assert.Equal(t, StateStopped, lm.State())
	assert.True(t, out.Closed())

	// a stopped station cannot be restarted
	assert.Error(t, lm.Start())
}

func TestLifecycle_StartTwice(t *testing.T) {
	lm, _ := startStation(t, testConfig(t))
	assert.Error(t, lm.Start())
	assert.Equal(t, StateRunning, lm.State())
}

func TestLifecycle_SubscribeStatus(t *testing.T) {
	cfg := testConfig(t)
	lm := NewLifecycleManager(cfg, zaptest.NewLogger(t), WithOutput(line.NewSimOutput(0)), WithClock(instantClock{}))
	ch := lm.SubscribeStatus()

	require.NoError(t, lm.Start())
	require.NoError(t, lm.Shutdown(context.Background()))

	var states []SystemState
	for len(ch) > 0 {
		states = append(states, (<-ch).State)
	}
	assert.Equal(t, []SystemState{StateInitializing, StateRunning, StateStopping, StateStopped}, states)

	lm.UnsubscribeStatus(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.NoError(t, ValidateTransition(StateError, StateStopping))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(StateRunning, StateInitializing))
	assert.Error(t, ValidateTransition(SystemState(42), StateRunning))
}

func TestSystemState_String(t *testing.T) {
	assert.Equal(t, "STOPPING", StateStopping.String())
	assert.Equal(t, "UNKNOWN", SystemState(42).String())

	data, err := json.Marshal(SystemStatus{State: StateError, Error: "boom"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"ERROR"`)
}
