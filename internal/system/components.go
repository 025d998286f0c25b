package system

import (
	"errors"
	"fmt"
	"io"

	"github.com/KevinKickass/dccstation/internal/channel"
	"github.com/KevinKickass/dccstation/internal/config"
	"github.com/KevinKickass/dccstation/internal/delivery"
	"github.com/KevinKickass/dccstation/internal/handler"
	"github.com/KevinKickass/dccstation/internal/line"
	"github.com/KevinKickass/dccstation/internal/sender"
	"go.uber.org/zap"
)

// simHistory is the number of line levels a sim output keeps.
const simHistory = 4096

func openOutput(cfg config.LineConfig) (line.Output, error) {
	switch cfg.Driver {
	case "gpio":
		out, err := line.OpenGPIO(cfg.Chip, cfg.Offset)
		if err != nil {
			return nil, fmt.Errorf("failed to open gpio line %s:%d: %w", cfg.Chip, cfg.Offset, err)
		}
		return out, nil
	case "sim":
		return line.NewSimOutput(simHistory), nil
	default:
		return nil, fmt.Errorf("unknown line driver %q", cfg.Driver)
	}
}

func lineTiming(cfg config.LineConfig) line.Timing {
	return line.Timing{
		BitOneHalf:  cfg.BitOneHalf,
		BitZeroHalf: cfg.BitZeroHalf,
		Settle:      cfg.Settle,
	}
}

func schedulerConfig(cfg *config.Config) sender.Config {
	return sender.Config{
		StartDelay:        cfg.Scheduler.StartDelay,
		LocomotivePeriod:  cfg.Scheduler.LocomotivePeriod,
		LocomotiveStagger: cfg.Scheduler.LocomotiveStagger,
		AccessoryPeriod:   cfg.Scheduler.AccessoryPeriod,
		ResetCount:        cfg.Scheduler.ResetCount,
		IdleCount:         cfg.Scheduler.IdleCount,
		IdleWhenEmpty:     cfg.Scheduler.IdleWhenEmpty,
		TelegramLength:    cfg.Line.TelegramLength,
	}
}

func deliveryOptions(cfg config.DeliveryConfig) delivery.Options {
	return delivery.Options{
		Grace:    cfg.Grace,
		Attempts: cfg.Attempts,
	}
}

// endpoint is one command/ack channel pair served by its own handler.
type endpoint struct {
	name     string
	commands channel.Reader
	acks     io.WriteCloser
	handler  *handler.Handler
}

func (e *endpoint) close() error {
	return errors.Join(e.commands.Close(), e.acks.Close())
}

// memoryEndpoint returns the in-process channel pair and a delivery client
// writing into it.
func memoryEndpoint(cfg *config.Config, logger *zap.Logger) (*endpoint, *delivery.Client) {
	commands := channel.NewBuffer(cfg.Channels.Capacity)
	acks := channel.NewBuffer(cfg.Channels.Capacity)

	client := delivery.NewClient(commands, acks, deliveryOptions(cfg.Delivery), logger)

	return &endpoint{name: "memory", commands: commands, acks: acks}, client
}

// fifoEndpoint opens the station side of the named pipes: blocking reads
// of commands, non-blocking ack writes so a missing reader never stalls
// the handler.
func fifoEndpoint(cfg config.ChannelsConfig) (*endpoint, error) {
	commands, err := channel.OpenFIFO(cfg.CommandPath, channel.DirRead, false)
	if err != nil {
		return nil, err
	}

	acks, err := channel.OpenFIFO(cfg.AckPath, channel.DirWrite, true)
	if err != nil {
		commands.Close()
		return nil, err
	}

	return &endpoint{name: "fifo", commands: commands, acks: acks}, nil
}
