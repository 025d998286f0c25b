package sender

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/dccstation/internal/store"
	"github.com/KevinKickass/dccstation/internal/telegram"
	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTransmitter struct {
	mu       sync.Mutex
	sent     []telegram.Telegram
	lengths  []uint8
	hold     time.Duration
	gate     chan struct{}
	inFlight atomic.Int32
}

func (f *fakeTransmitter) Transmit(t telegram.Telegram, length uint8) {
	f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	if f.gate != nil {
		<-f.gate
	}
	time.Sleep(f.hold)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, t)
	f.lengths = append(f.lengths, length)
}

func (f *fakeTransmitter) Sent() []telegram.Telegram {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]telegram.Telegram, len(f.sent))
	copy(out, f.sent)
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StartDelay = 0
	cfg.LocomotivePeriod = 5 * time.Millisecond
	cfg.AccessoryPeriod = 5 * time.Millisecond
	cfg.LocomotiveStagger = 0
	return cfg
}

func newStore(t *testing.T, locos ...types.LocomotiveCommand) *store.CommandStore {
	st, err := store.New(locos, 4)
	require.NoError(t, err)
	return st
}

func TestPrime_ResetThenIdle(t *testing.T) {
	tx := &fakeTransmitter{}
	s := NewScheduler(newStore(t), tx, DefaultConfig(), zaptest.NewLogger(t))

	s.Prime()

	sent := tx.Sent()
	require.Len(t, sent, 30)
	for i, tg := range sent {
		if i < 20 {
			assert.Equal(t, telegram.Reset(), tg, "telegram %d", i)
		} else {
			assert.Equal(t, telegram.Idle(), tg, "telegram %d", i)
		}
	}
	for _, l := range tx.lengths {
		assert.Equal(t, telegram.Length, l)
	}
}

func TestResetAll(t *testing.T) {
	tx := &fakeTransmitter{}
	cfg := DefaultConfig()
	cfg.ResetCount = 3
	s := NewScheduler(newStore(t), tx, cfg, zaptest.NewLogger(t))

	s.ResetAll()

	assert.Equal(t, []telegram.Telegram{telegram.Reset(), telegram.Reset(), telegram.Reset()}, tx.Sent())
}

func TestLocomotiveSender_RepeatsCurrentCommand(t *testing.T) {
	tx := &fakeTransmitter{}
	loco := types.LocomotiveCommand{Address: 3, Speed: 2, Direction: types.Forward}
	st := newStore(t, loco)
	s := NewLocomotiveSender(st.Locomotives, 0, tx, telegram.Length, 0, 5*time.Millisecond, zaptest.NewLogger(t))

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return len(tx.Sent()) >= 3 }, time.Second, time.Millisecond)
	for _, tg := range tx.Sent() {
		assert.Equal(t, telegram.EncodeLocomotive(loco), tg)
	}

	faster := loco
	faster.Speed = 9
	require.NoError(t, st.Locomotives.Update(faster))

	want := telegram.EncodeLocomotive(faster)
	require.Eventually(t, func() bool {
		sent := tx.Sent()
		return sent[len(sent)-1] == want
	}, time.Second, time.Millisecond)

	assert.Equal(t, "locomotive-3", s.Name())
	assert.Equal(t, uint8(3), s.Address())
}

func TestLocomotiveSender_StartDelay(t *testing.T) {
	tx := &fakeTransmitter{}
	st := newStore(t, types.LocomotiveCommand{Address: 1})
	s := NewLocomotiveSender(st.Locomotives, 0, tx, telegram.Length, 200*time.Millisecond, time.Millisecond, zaptest.NewLogger(t))

	require.NoError(t, s.Start())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.Empty(t, tx.Sent(), "nothing may be sent before the start delay")
}

func TestAccessoryDrain_FIFO(t *testing.T) {
	tx := &fakeTransmitter{}
	st := newStore(t)
	a := types.AccessoryCommand{Address: 5, Device: 2, Control: true, Enable: true}
	b := types.AccessoryCommand{Address: 6, Device: 0, Enable: true}
	_, _ = st.Accessories.EnqueueOrUpdate(a)
	_, _ = st.Accessories.EnqueueOrUpdate(b)

	d := NewAccessoryDrain(st.Accessories, tx, telegram.Length, false, 0, 5*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, d.Start())

	require.Eventually(t, func() bool { return st.Accessories.Len() == 0 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	d.Stop()

	assert.Equal(t, []telegram.Telegram{telegram.EncodeAccessory(a), telegram.EncodeAccessory(b)}, tx.Sent(),
		"an empty queue sends nothing")
}

func TestAccessoryDrain_IdleWhenEmpty(t *testing.T) {
	tx := &fakeTransmitter{}
	st := newStore(t)
	d := NewAccessoryDrain(st.Accessories, tx, telegram.Length, true, 0, 2*time.Millisecond, zaptest.NewLogger(t))

	require.NoError(t, d.Start())
	require.Eventually(t, func() bool { return len(tx.Sent()) >= 2 }, time.Second, time.Millisecond)
	d.Stop()

	for _, tg := range tx.Sent() {
		assert.Equal(t, telegram.Idle(), tg)
	}
}

func TestSender_StartStopIdempotent(t *testing.T) {
	tx := &fakeTransmitter{}
	st := newStore(t, types.LocomotiveCommand{Address: 1})
	s := NewLocomotiveSender(st.Locomotives, 0, tx, telegram.Length, time.Hour, time.Hour, zaptest.NewLogger(t))

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Equal(t, StateIdleWait, s.State())

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	// restart after stop
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	s.Stop()
}

func TestScheduler_StopAllWaitsForFrameInFlight(t *testing.T) {
	tx := &fakeTransmitter{hold: 30 * time.Millisecond}
	st := newStore(t, types.LocomotiveCommand{Address: 1}, types.LocomotiveCommand{Address: 2})
	s := NewScheduler(st, tx, testConfig(), zaptest.NewLogger(t))

	require.NoError(t, s.StartAll())
	require.Eventually(t, func() bool { return tx.inFlight.Load() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, s.StopAll(context.Background()))

	assert.Zero(t, tx.inFlight.Load(), "StopAll returned with a telegram on the line")
	n := len(tx.Sent())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(tx.Sent()), "no telegrams after StopAll")

	for _, status := range s.Status() {
		assert.False(t, status.Running, status.Name)
	}
}

func TestScheduler_StopAllTimeout(t *testing.T) {
	tx := &fakeTransmitter{gate: make(chan struct{})}
	st := newStore(t, types.LocomotiveCommand{Address: 1})
	s := NewScheduler(st, tx, testConfig(), zaptest.NewLogger(t))

	require.NoError(t, s.StartAll())
	require.Eventually(t, func() bool { return tx.inFlight.Load() > 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.StopAll(ctx), context.DeadlineExceeded)

	close(tx.gate)
	require.NoError(t, s.StopAll(context.Background()))
}

func TestScheduler_Status(t *testing.T) {
	st := newStore(t, types.LocomotiveCommand{Address: 3}, types.LocomotiveCommand{Address: 2})
	cfg := DefaultConfig()
	cfg.StartDelay = time.Hour
	s := NewScheduler(st, &fakeTransmitter{}, cfg, zaptest.NewLogger(t))

	require.NoError(t, s.StartAll())
	defer s.StopAll(context.Background())

	status := s.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "locomotive-3", status[0].Name)
	assert.Equal(t, "locomotive-2", status[1].Name)
	assert.Equal(t, "accessory-drain", status[2].Name)
	for _, ss := range status {
		assert.True(t, ss.Running)
		assert.Equal(t, "IDLE_WAIT", ss.State)
	}

	l, ok := s.Locomotive(1)
	require.True(t, ok)
	assert.Equal(t, uint8(2), l.Address())
	_, ok = s.Locomotive(2)
	assert.False(t, ok)
	assert.Equal(t, "accessory-drain", s.Drain().Name())
	assert.True(t, s.Drain().IsRunning())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "TRANSMIT", StateTransmit.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
