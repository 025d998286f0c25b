package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/KevinKickass/dccstation/internal/layout"
	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/spf13/pflag"
)

// errUsage marks errors the user can fix by reading --help.
var errUsage = errors.New("usage error")

type commandSender interface {
	SendLocomotive(ctx context.Context, cmd types.LocomotiveCommand) error
	SendAccessory(ctx context.Context, cmd types.AccessoryCommand) error
}

type command struct {
	name        string
	usage       string
	description string
	run         func(c *cli, args []string) error
}

// commandTable lists the subcommands.
func commandTable() []command {
	return []command{
		{
			name:        "loc",
			usage:       "loc (--address <address> | --alias <alias>) [OPTION]...",
			description: "Changes speed, direction and light of a locomotive.",
			run:         (*cli).cmdLoc,
		},
		{
			name:        "mag",
			usage:       "mag (--address <address> | --alias <alias>) [--device <1-4>] --switch (on|off)",
			description: "Switches an output of a magnetic accessory decoder.",
			run:         (*cli).cmdMag,
		},
		{
			name:        "list",
			usage:       "list",
			description: "Lists the locomotives and accessories of the layout.",
			run:         (*cli).cmdList,
		},
		{
			name:        "help",
			usage:       "help [command]",
			description: "Shows this help or the options of a command.",
			run:         (*cli).cmdHelp,
		},
	}
}

type cli struct {
	out     io.Writer
	connect func() (commandSender, error)
	sender  commandSender
	timeout time.Duration

	layout *layout.Layout
	// why the layout is missing, reported when an alias is used
	layoutErr error

	// base URL of the station's HTTP surface, empty to skip it
	station    string
	httpClient *http.Client
}

func (c *cli) run(args []string) error {
	if len(args) == 0 {
		return c.cmdHelp(nil)
	}

	for _, cmd := range commandTable() {
		if cmd.name == args[0] {
			return cmd.run(c, args[1:])
		}
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

// prompt runs commands read line by line from in until EOF or exit.
func (c *cli) prompt(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "dcc> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}

		if err := c.run(fields); err != nil {
			fmt.Fprintln(c.out, describe(err))
		}
	}
}

func (c *cli) client() (commandSender, error) {
	if c.sender == nil {
		s, err := c.connect()
		if err != nil {
			return nil, err
		}
		c.sender = s
	}
	return c.sender, nil
}

func (c *cli) newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(c.out)
	fs.Usage = func() {
		for _, cmd := range commandTable() {
			if cmd.name == name {
				fmt.Fprintf(c.out, "Usage: %s\n\n%s\n\nOptions:\n", cmd.usage, cmd.description)
			}
		}
		fs.PrintDefaults()
	}
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	return nil
}

func parseOnOff(option, s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: invalid argument %q for %s (on|off)", errUsage, s, option)
	}
}

func (c *cli) cmdLoc(args []string) error {
	fs := c.newFlagSet("loc")
	address := fs.IntP("address", "a", -1, "address of the locomotive")
	alias := fs.StringP("alias", "A", "", "alias of the locomotive, resolved through the layout")
	direction := fs.StringP("direction", "d", "", "forward | backward")
	light := fs.StringP("light", "l", "", "on | off")
	speed := fs.StringP("speed", "s", "", "stop | e-stop | 0-15")
	monitor := fs.BoolP("monitor", "m", false, "show the current state of the locomotive")
	list := fs.Bool("list", false, "list the available locomotives")

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if *list {
		return c.listLocomotives()
	}

	ref, err := locomotiveRef(*address, *alias)
	if err != nil {
		return err
	}

	cmd, err := c.currentLocomotive(ref)
	if err != nil {
		return err
	}

	if *monitor {
		fmt.Fprintf(c.out, "loc %d - speed: %d, direction: %s, light: %s\n",
			cmd.Address, cmd.Speed, cmd.Direction, onOff(cmd.Light))
		return nil
	}

	if fs.Changed("speed") {
		if cmd.Speed, err = types.ParseSpeed(*speed); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	if fs.Changed("direction") {
		if cmd.Direction, err = types.ParseDirection(*direction); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	if fs.Changed("light") {
		if cmd.Light, err = parseOnOff("light", *light); err != nil {
			return err
		}
	}

	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	s, err := c.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := s.SendLocomotive(ctx, cmd); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "loc %d: speed %d, %s, light %s\n", cmd.Address, cmd.Speed, cmd.Direction, onOff(cmd.Light))
	return nil
}

func locomotiveRef(address int, alias string) (string, error) {
	switch {
	case address >= 0 && alias != "":
		return "", fmt.Errorf("%w: use either --address or --alias", errUsage)
	case alias != "":
		return alias, nil
	case address >= 0:
		if address > types.MaxLocomotiveAddress {
			return "", fmt.Errorf("%w: locomotive address %d out of range (0-%d)", errUsage, address, types.MaxLocomotiveAddress)
		}
		return strconv.Itoa(address), nil
	default:
		return "", fmt.Errorf("%w: --address or --alias required", errUsage)
	}
}

// currentLocomotive returns the state the station drives for ref. Without
// the HTTP surface the layout's power-up state is used.
func (c *cli) currentLocomotive(ref string) (types.LocomotiveCommand, error) {
	base, err := c.layoutLocomotive(ref)
	if err != nil {
		return base, err
	}

	if live, ok := c.fetchLocomotive(base.Address); ok {
		return live, nil
	}
	return base, nil
}

func (c *cli) layoutLocomotive(ref string) (types.LocomotiveCommand, error) {
	if c.layout == nil && !isAddress(ref) {
		return types.LocomotiveCommand{}, fmt.Errorf("cannot resolve alias %q: %w", ref, c.layoutErr)
	}

	if c.layout != nil {
		loco, err := c.layout.ResolveLocomotive(ref)
		if err == nil {
			return loco.Command(), nil
		}
		if !isAddress(ref) {
			return types.LocomotiveCommand{}, err
		}
	}

	// address outside the layout
	n, _ := strconv.Atoi(ref)
	return types.LocomotiveCommand{Address: uint8(n), Direction: types.Forward}, nil
}

func isAddress(ref string) bool {
	_, err := strconv.Atoi(ref)
	return err == nil
}

func (c *cli) fetchLocomotive(address uint8) (types.LocomotiveCommand, bool) {
	if c.station == "" {
		return types.LocomotiveCommand{}, false
	}

	resp, err := c.httpClient.Get(c.station + "/api/v1/locomotives")
	if err != nil {
		return types.LocomotiveCommand{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.LocomotiveCommand{}, false
	}

	var body struct {
		Locomotives []types.LocomotiveCommand `json:"locomotives"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.LocomotiveCommand{}, false
	}

	for _, loco := range body.Locomotives {
		if loco.Address == address {
			return loco, true
		}
	}
	return types.LocomotiveCommand{}, false
}

func (c *cli) cmdMag(args []string) error {
	fs := c.newFlagSet("mag")
	address := fs.IntP("address", "a", -1, "address of the accessory decoder")
	alias := fs.StringP("alias", "A", "", "alias of the accessory, resolved through the layout")
	device := fs.IntP("device", "d", 0, "output of the decoder (1-4)")
	switchTo := fs.StringP("switch", "s", "", "on | off")

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if !fs.Changed("switch") {
		return fmt.Errorf("%w: --switch required", errUsage)
	}
	enable, err := parseOnOff("switch", *switchTo)
	if err != nil {
		return err
	}

	var cmd types.AccessoryCommand
	switch {
	case *address >= 0 && *alias != "":
		return fmt.Errorf("%w: use either --address or --alias", errUsage)

	case *alias != "":
		if c.layout == nil {
			return fmt.Errorf("cannot resolve alias %q: %w", *alias, c.layoutErr)
		}
		acc, err := c.layout.ResolveAccessory(*alias)
		if err != nil {
			return err
		}
		cmd = acc.Command(enable)

	case *address >= 0:
		if !fs.Changed("device") {
			return fmt.Errorf("%w: --device required with --address", errUsage)
		}
		if *address > types.MaxAccessoryAddress {
			return fmt.Errorf("%w: accessory address %d out of range (0-%d)", errUsage, *address, types.MaxAccessoryAddress)
		}
		cmd = types.AccessoryCommand{Address: uint16(*address), Enable: enable}

	default:
		return fmt.Errorf("%w: --address or --alias required", errUsage)
	}

	// devices are counted from 1 on the command line
	if fs.Changed("device") {
		if *device < 1 || *device > types.MaxDevice+1 {
			return fmt.Errorf("%w: device %d out of range (1-%d)", errUsage, *device, types.MaxDevice+1)
		}
		cmd.Device = uint8(*device - 1)
	}

	s, err := c.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := s.SendAccessory(ctx, cmd); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "mag %d device %d: %s\n", cmd.Address, cmd.Device+1, onOff(cmd.Enable))
	return nil
}

func (c *cli) cmdList(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: list takes no arguments", errUsage)
	}
	if err := c.listLocomotives(); err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	return c.listAccessories()
}

func (c *cli) listLocomotives() error {
	if c.layout == nil {
		return fmt.Errorf("no layout: %w", c.layoutErr)
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOCOMOTIVE\tADDRESS\tSPEED\tDIRECTION\tLIGHT")
	for _, loco := range c.layout.Locomotives {
		cmd := loco.Command()
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", loco.Alias, cmd.Address, cmd.Speed, cmd.Direction, onOff(cmd.Light))
	}
	return w.Flush()
}

func (c *cli) listAccessories() error {
	if c.layout == nil {
		return fmt.Errorf("no layout: %w", c.layoutErr)
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCESSORY\tADDRESS\tDEVICE\tCONTROL")
	for _, acc := range c.layout.Accessories {
		fmt.Fprintf(w, "%s\t%d\t%d\t%t\n", acc.Alias, acc.Address, acc.Device+1, acc.Control)
	}
	return w.Flush()
}

func (c *cli) cmdHelp(args []string) error {
	if len(args) > 0 {
		for _, cmd := range commandTable() {
			if cmd.name == args[0] {
				if cmd.name == "help" || cmd.name == "list" {
					fmt.Fprintf(c.out, "Usage: %s\n\n%s\n", cmd.usage, cmd.description)
					return nil
				}
				if err := cmd.run(c, []string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
					return err
				}
				return nil
			}
		}
		return fmt.Errorf("%w: no such command %q", errUsage, args[0])
	}

	fmt.Fprintln(c.out, "Available commands:")
	for _, cmd := range commandTable() {
		fmt.Fprintf(c.out, "  %s\n      %s\n", cmd.usage, cmd.description)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// describe turns an error into the message shown to the user.
func describe(err error) string {
	switch {
	case errors.Is(err, pflag.ErrHelp):
		return ""
	case errors.Is(err, types.ErrDeliveryTimeout):
		return "station did not acknowledge the command: " + err.Error()
	case errors.Is(err, errUsage):
		return strings.TrimPrefix(err.Error(), errUsage.Error()+": ") + "\nSee 'help <command>' for more information."
	default:
		return err.Error()
	}
}
