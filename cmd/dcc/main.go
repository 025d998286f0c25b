// Command dcc sends locomotive and accessory commands to a running dccd
// over the command channels and waits for the acknowledgement.
//
//	dcc [--config FILE] loc -A loc3 -s 7 -d forward -l on
//	dcc mag -A switch0 -s on
//	dcc list
//
// Without a command dcc reads commands from a dcc> prompt.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/KevinKickass/dccstation/internal/channel"
	"github.com/KevinKickass/dccstation/internal/config"
	"github.com/KevinKickass/dccstation/internal/delivery"
	"github.com/KevinKickass/dccstation/internal/layout"
	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the config file (defaults and DCC_ environment when empty)")
	station := pflag.String("station", "", "base URL of the station's HTTP API, e.g. http://localhost:8080")
	verbose := pflag.BoolP("verbose", "v", false, "log channel traffic")
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	defer logger.Sync()

	c := &cli{
		out:        os.Stdout,
		connect:    fifoConnector(cfg, logger),
		timeout:    commandTimeout(cfg.Delivery),
		station:    *station,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	c.layout, c.layoutErr = layout.Load(cfg.Layout.Path)

	if pflag.NArg() == 0 {
		if err := c.prompt(os.Stdin); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	os.Exit(exitCode(c.run(pflag.Args())))
}

// fifoConnector opens the control program's ends of the named pipes:
// non-blocking command writes and non-blocking ack reads.
func fifoConnector(cfg *config.Config, logger *zap.Logger) func() (commandSender, error) {
	return func() (commandSender, error) {
		commands, err := channel.OpenFIFO(cfg.Channels.CommandPath, channel.DirWrite, true)
		if err != nil {
			return nil, err
		}
		acks, err := channel.OpenFIFO(cfg.Channels.AckPath, channel.DirRead, true)
		if err != nil {
			commands.Close()
			return nil, err
		}
		opts := delivery.Options{Grace: cfg.Delivery.Grace, Attempts: cfg.Delivery.Attempts}
		return delivery.NewClient(commands, acks, opts, logger), nil
	}
}

// commandTimeout leaves room for every attempt.
func commandTimeout(cfg config.DeliveryConfig) time.Duration {
	return time.Duration(cfg.Attempts+1)*cfg.Grace + time.Second
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return 0
	}

	fmt.Fprintln(os.Stderr, describe(err))
	switch {
	case errors.Is(err, types.ErrDeliveryTimeout):
		return 1
	case errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}
