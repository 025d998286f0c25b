//go:build linux || darwin

package system

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/dccstation/internal/channel"
	"github.com/KevinKickass/dccstation/internal/delivery"
	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLifecycle_FIFOEndpoint(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.Channels.Driver = "fifo"
	cfg.Channels.CommandPath = filepath.Join(dir, "cmd")
	cfg.Channels.AckPath = filepath.Join(dir, "ack")

	lm, _ := startStation(t, cfg)

	// the control program's ends
	commands, err := channel.OpenFIFO(cfg.Channels.CommandPath, channel.DirWrite, true)
	require.NoError(t, err)
	defer commands.Close()
	acks, err := channel.OpenFIFO(cfg.Channels.AckPath, channel.DirRead, true)
	require.NoError(t, err)
	defer acks.Close()

	client := delivery.NewClient(commands, acks, delivery.Options{Grace: 20 * time.Millisecond}, zaptest.NewLogger(t))

	cmd := types.AccessoryCommand{Address: 5, Device: 2, Control: true, Enable: true}
	require.NoError(t, client.SendAccessory(context.Background(), cmd))
	assert.Equal(t, []types.AccessoryCommand{cmd}, lm.Store().Accessories.Snapshot())

	err = client.SendLocomotive(context.Background(), types.LocomotiveCommand{Address: 100})
	assert.ErrorIs(t, err, types.ErrDeliveryTimeout)

	require.NoError(t, lm.Shutdown(context.Background()))
}
