package telegram

import (
	"fmt"

	"github.com/KevinKickass/dccstation/internal/types"
)

// Telegram is a DCC packet left-aligned in 64 bits, first bit on the wire in
// bit 63:
//
//	63-50     49  48-41    40  39-32    31  30-23     22    21-0
//	preamble  0   address  0   command  0   checksum  stop  reserved
//
// Only the first Length bits are transmitted.
type Telegram uint64

// Length is the number of significant bits, preamble through stop bit.
const Length uint8 = 42

const (
	Preamble = 0x3FFF

	preambleShift   = 50
	addrStartShift  = 49
	addressShift    = 41
	cmdStartShift   = 40
	commandShift    = 32
	csStartShift    = 31
	checksumShift   = 23
	stopShift       = 22
	preambleMask    = 0x3FFF
	byteMask        = 0xFF
	reservedMask    = 1<<stopShift - 1
	accLowAddrMask  = 0x3F
	accHighAddrMask = 0x7
)

// Fixed address/command bytes of the broadcast packets.
const (
	IdleAddress  byte = 0xFF
	IdleCommand  byte = 0x00
	ResetAddress byte = 0x00
	ResetCommand byte = 0x00
)

// build packs an address and command byte into a telegram with the
// checksum, preamble and framing bits filled in.
func build(address, command byte) Telegram {
	return Telegram(uint64(Preamble)<<preambleShift |
		uint64(address)<<addressShift |
		uint64(command)<<commandShift |
		uint64(address^command)<<checksumShift |
		1<<stopShift)
}

// EncodeLocomotive builds a baseline speed/direction packet:
// address byte 0AAAAAAA, command byte 01DLSSSS.
func EncodeLocomotive(cmd types.LocomotiveCommand) Telegram {
	address := cmd.Address & types.MaxLocomotiveAddress

	command := byte(0x40) |
		byte(cmd.Direction&1)<<5 |
		bit(cmd.Light)<<4 |
		cmd.Speed&types.MaxSpeed

	return build(address, command)
}

// EncodeAccessory builds a basic accessory packet. The 9 bit address is split:
// the low 6 bits go into the address byte (10LLLLLL), the high 3 bits go
// complemented into the command byte (1HHHCDDE).
func EncodeAccessory(cmd types.AccessoryCommand) Telegram {
	low := byte(cmd.Address & accLowAddrMask)
	high := ^byte(cmd.Address>>6) & accHighAddrMask

	address := byte(0x80) | low
	command := byte(0x80) |
		high<<4 |
		bit(cmd.Control)<<3 |
		(cmd.Device&types.MaxDevice)<<1 |
		bit(cmd.Enable)

	return build(address, command)
}

// Idle is the broadcast "no new action" packet.
func Idle() Telegram {
	return build(IdleAddress, IdleCommand)
}

// Reset is the broadcast "erase volatile state" packet.
func Reset() Telegram {
	return build(ResetAddress, ResetCommand)
}

func (t Telegram) Preamble() uint16 {
	return uint16(t>>preambleShift) & preambleMask
}

func (t Telegram) AddressByte() byte {
	return byte(t>>addressShift) & byteMask
}

func (t Telegram) CommandByte() byte {
	return byte(t>>commandShift) & byteMask
}

func (t Telegram) Checksum() byte {
	return byte(t>>checksumShift) & byteMask
}

// StartBits returns the three packet start bits in wire order.
func (t Telegram) StartBits() [3]uint8 {
	return [3]uint8{
		uint8(t>>addrStartShift) & 1,
		uint8(t>>cmdStartShift) & 1,
		uint8(t>>csStartShift) & 1,
	}
}

func (t Telegram) StopBit() uint8 {
	return uint8(t>>stopShift) & 1
}

// Reserved returns the padding bits below the stop bit.
func (t Telegram) Reserved() uint32 {
	return uint32(t & reservedMask)
}

// Bit returns the i-th bit in transmission order, 0 being the first
// preamble bit.
func (t Telegram) Bit(i uint8) uint8 {
	return uint8(t>>(63-i)) & 1
}

// Valid checks the framing and the checksum.
func (t Telegram) Valid() error {
	if p := t.Preamble(); p != Preamble {
		return fmt.Errorf("bad preamble 0x%04X", p)
	}
	if s := t.StartBits(); s != [3]uint8{} {
		return fmt.Errorf("bad start bits %v", s)
	}
	if t.StopBit() != 1 {
		return fmt.Errorf("missing stop bit")
	}
	if cs := t.AddressByte() ^ t.CommandByte(); cs != t.Checksum() {
		return fmt.Errorf("checksum 0x%02X, expected 0x%02X", t.Checksum(), cs)
	}
	return nil
}

func (t Telegram) String() string {
	return fmt.Sprintf("%014b 0 %08b 0 %08b 0 %08b 1",
		t.Preamble(), t.AddressByte(), t.CommandByte(), t.Checksum())
}

func bit(b bool) byte {
	if b {
		return 1
	}
	return 0
}
