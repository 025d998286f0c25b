package types

import (
	"fmt"
	"strconv"
)

const (
	MaxLocomotiveAddress = 0x7F  // 7 bit
	MaxAccessoryAddress  = 0x1FF // 9 bit
	MaxSpeed             = 0x0F
	MaxDevice            = 0x03
)

// Speed steps with a special meaning. 2-15 are regular steps.
const (
	SpeedStop          uint8 = 0
	SpeedEmergencyStop uint8 = 1
)

type Direction uint8

const (
	Backward Direction = 0
	Forward  Direction = 1
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection accepts "forward" and "backward".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward":
		return Forward, nil
	case "backward":
		return Backward, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (forward|backward)", s)
	}
}

// ParseSpeed accepts "stop", "e-stop" or a speed step 0-15.
func ParseSpeed(s string) (uint8, error) {
	switch s {
	case "stop":
		return SpeedStop, nil
	case "e-stop":
		return SpeedEmergencyStop, nil
	}

	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil || v > MaxSpeed {
		return 0, fmt.Errorf("invalid speed %q (stop|e-stop|0-%d)", s, MaxSpeed)
	}
	return uint8(v), nil
}

// LocomotiveCommand is the live state of one locomotive decoder.
type LocomotiveCommand struct {
	Address   uint8     `json:"address" yaml:"address"`
	Speed     uint8     `json:"speed" yaml:"speed"`
	Direction Direction `json:"direction" yaml:"direction"`
	Light     bool      `json:"light" yaml:"light"`
}

func (c LocomotiveCommand) Validate() error {
	if c.Address > MaxLocomotiveAddress {
		return fmt.Errorf("locomotive address %d out of range (0-%d)", c.Address, MaxLocomotiveAddress)
	}
	if c.Speed > MaxSpeed {
		return fmt.Errorf("speed %d out of range (0-%d)", c.Speed, MaxSpeed)
	}
	if c.Direction > Forward {
		return fmt.Errorf("invalid direction %d", c.Direction)
	}
	return nil
}

// AccessoryCommand switches one of the four outputs of an accessory decoder.
// (Address, Device) identifies the output.
type AccessoryCommand struct {
	Address uint16 `json:"address" yaml:"address"`
	Device  uint8  `json:"device" yaml:"device"`
	Control bool   `json:"control" yaml:"control"`
	Enable  bool   `json:"enable" yaml:"enable"`
}

func (c AccessoryCommand) Validate() error {
	if c.Address > MaxAccessoryAddress {
		return fmt.Errorf("accessory address %d out of range (0-%d)", c.Address, MaxAccessoryAddress)
	}
	if c.Device > MaxDevice {
		return fmt.Errorf("device %d out of range (0-%d)", c.Device, MaxDevice)
	}
	return nil
}

// SameOutput reports whether both commands address the same accessory output.
func (c AccessoryCommand) SameOutput(o AccessoryCommand) bool {
	return c.Address == o.Address && c.Device == o.Device
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
