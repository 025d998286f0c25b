// Package layout describes the rolling stock and accessories of a layout:
// the locomotive table with its power-up state and the accessory aliases.
package layout

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/KevinKickass/dccstation/internal/types"
)

var ErrNotFound = errors.New("not in layout")

type Locomotive struct {
	Alias     string `yaml:"alias" json:"alias"`
	Address   uint8  `yaml:"address" json:"address"`
	Speed     uint8  `yaml:"speed" json:"speed"`
	Direction string `yaml:"direction" json:"direction"`
	Light     bool   `yaml:"light" json:"light"`
}

// Command returns the power-up command of the locomotive. An empty
// direction means forward.
func (l Locomotive) Command() types.LocomotiveCommand {
	dir := types.Forward
	if l.Direction == "backward" {
		dir = types.Backward
	}
	return types.LocomotiveCommand{
		Address:   l.Address,
		Speed:     l.Speed,
		Direction: dir,
		Light:     l.Light,
	}
}

type Accessory struct {
	Alias   string `yaml:"alias" json:"alias"`
	Address uint16 `yaml:"address" json:"address"`
	Device  uint8  `yaml:"device" json:"device"`
	Control bool   `yaml:"control" json:"control"`
}

// Command returns the command switching the output on or off.
func (a Accessory) Command(enable bool) types.AccessoryCommand {
	return types.AccessoryCommand{
		Address: a.Address,
		Device:  a.Device,
		Control: a.Control,
		Enable:  enable,
	}
}

type Layout struct {
	Locomotives []Locomotive `yaml:"locomotives" json:"locomotives"`
	Accessories []Accessory  `yaml:"accessories" json:"accessories"`
}

// InitialCommands returns the locomotive slots in file order.
func (l *Layout) InitialCommands() []types.LocomotiveCommand {
	out := make([]types.LocomotiveCommand, 0, len(l.Locomotives))
	for _, loco := range l.Locomotives {
		out = append(out, loco.Command())
	}
	return out
}

// ResolveLocomotive finds a locomotive by alias or by decimal address.
func (l *Layout) ResolveLocomotive(ref string) (Locomotive, error) {
	if addr, err := strconv.ParseUint(ref, 10, 8); err == nil {
		for _, loco := range l.Locomotives {
			if uint64(loco.Address) == addr {
				return loco, nil
			}
		}
		return Locomotive{}, fmt.Errorf("locomotive address %d: %w", addr, ErrNotFound)
	}

	for _, loco := range l.Locomotives {
		if loco.Alias == ref {
			return loco, nil
		}
	}
	return Locomotive{}, fmt.Errorf("locomotive %q: %w", ref, ErrNotFound)
}

func (l *Layout) ResolveAccessory(alias string) (Accessory, error) {
	for _, acc := range l.Accessories {
		if acc.Alias == alias {
			return acc, nil
		}
	}
	return Accessory{}, fmt.Errorf("accessory %q: %w", alias, ErrNotFound)
}

// check rejects what the schema cannot express: duplicate aliases,
// locomotive addresses and accessory outputs.
func (l *Layout) check() error {
	aliases := make(map[string]bool)
	addresses := make(map[uint8]bool)
	outputs := make(map[[2]uint16]bool)

	for _, loco := range l.Locomotives {
		if aliases[loco.Alias] {
			return fmt.Errorf("duplicate alias %q", loco.Alias)
		}
		if addresses[loco.Address] {
			return fmt.Errorf("duplicate locomotive address %d", loco.Address)
		}
		aliases[loco.Alias] = true
		addresses[loco.Address] = true

		if err := loco.Command().Validate(); err != nil {
			return fmt.Errorf("locomotive %q: %w", loco.Alias, err)
		}
	}

	for _, acc := range l.Accessories {
		if aliases[acc.Alias] {
			return fmt.Errorf("duplicate alias %q", acc.Alias)
		}
		key := [2]uint16{acc.Address, uint16(acc.Device)}
		if outputs[key] {
			return fmt.Errorf("duplicate accessory output %d/%d", acc.Address, acc.Device)
		}
		aliases[acc.Alias] = true
		outputs[key] = true

		if err := acc.Command(false).Validate(); err != nil {
			return fmt.Errorf("accessory %q: %w", acc.Alias, err)
		}
	}

	return nil
}
