package types

import "fmt"

// Word is the 16 bit command word exchanged between the control process and
// the station.
//
// Locomotive (kind 01):
//
//	15   14-13  12-6     5    4     3-0
//	ack  kind   address  dir  light speed
//
// Accessory (kind 10):
//
//	15   14-13  12-4     3        2-1     0
//	ack  kind   address  control  device  enable
type Word uint16

type MessageKind uint8

const (
	KindLocomotive MessageKind = 0x1
	KindAccessory  MessageKind = 0x2
)

func (k MessageKind) String() string {
	switch k {
	case KindLocomotive:
		return "locomotive"
	case KindAccessory:
		return "accessory"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

const (
	AckBit    Word = 1 << 15
	ackMask   Word = 0x7FFF
	kindShift      = 13
	kindMask       = 0x3

	locoSpeedMask    = 0x0F
	locoLightShift   = 4
	locoDirShift     = 5
	locoAddressShift = 6
	locoAddressMask  = 0x7F

	accEnableShift  = 0
	accDeviceShift  = 1
	accDeviceMask   = 0x3
	accControlShift = 3
	accAddressShift = 4
	accAddressMask  = 0x1FF
)

func (w Word) Kind() MessageKind {
	return MessageKind((w >> kindShift) & kindMask)
}

func (w Word) Acked() bool {
	return w&AckBit != 0
}

// WithAck returns the acknowledgement for w: every bit echoed, bit 15 set.
func (w Word) WithAck() Word {
	return w | AckBit
}

// AcknowledgedBy reports whether ack confirms w. The ack bit is ignored on
// the left side so a caller may compare against its own outgoing word.
func (w Word) AcknowledgedBy(ack Word) bool {
	return w&ackMask == ack&ackMask && ack.Acked()
}

// Locomotive reads w under the locomotive layout. The kind is not checked.
func (w Word) Locomotive() LocomotiveCommand {
	return LocomotiveCommand{
		Address:   uint8((w >> locoAddressShift) & locoAddressMask),
		Speed:     uint8(w & locoSpeedMask),
		Direction: Direction((w >> locoDirShift) & 1),
		Light:     (w>>locoLightShift)&1 == 1,
	}
}

// Accessory reads w under the accessory layout. The kind is not checked.
func (w Word) Accessory() AccessoryCommand {
	return AccessoryCommand{
		Address: uint16((w >> accAddressShift) & accAddressMask),
		Device:  uint8((w >> accDeviceShift) & accDeviceMask),
		Control: (w>>accControlShift)&1 == 1,
		Enable:  (w>>accEnableShift)&1 == 1,
	}
}

func (w Word) String() string {
	switch w.Kind() {
	case KindLocomotive:
		c := w.Locomotive()
		return fmt.Sprintf("0x%04X loco addr=%d speed=%d dir=%s light=%t ack=%t",
			uint16(w), c.Address, c.Speed, c.Direction, c.Light, w.Acked())
	case KindAccessory:
		c := w.Accessory()
		return fmt.Sprintf("0x%04X acc addr=%d device=%d control=%t enable=%t ack=%t",
			uint16(w), c.Address, c.Device, c.Control, c.Enable, w.Acked())
	default:
		return fmt.Sprintf("0x%04X kind=%s", uint16(w), w.Kind())
	}
}

// Word packs c into a locomotive command word with the ack bit clear.
// Fields are masked to their widths.
func (c LocomotiveCommand) Word() Word {
	return Word(uint16(KindLocomotive)<<kindShift |
		(uint16(c.Address)&locoAddressMask)<<locoAddressShift |
		(uint16(c.Direction)&1)<<locoDirShift |
		boolBit(c.Light)<<locoLightShift |
		uint16(c.Speed)&locoSpeedMask)
}

// Word packs c into an accessory command word with the ack bit clear.
func (c AccessoryCommand) Word() Word {
	return Word(uint16(KindAccessory)<<kindShift |
		(c.Address&accAddressMask)<<accAddressShift |
		boolBit(c.Control)<<accControlShift |
		(uint16(c.Device)&accDeviceMask)<<accDeviceShift |
		boolBit(c.Enable)<<accEnableShift)
}
