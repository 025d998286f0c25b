package sender

import (
	"fmt"
	"time"

	"github.com/KevinKickass/dccstation/internal/store"
	"github.com/KevinKickass/dccstation/internal/telegram"
	"go.uber.org/zap"
)

// LocomotiveSender re-sends the command of one locomotive slot every period,
// whether it changed or not.
type LocomotiveSender struct {
	periodic
	table  *store.LocomotiveTable
	slot   int
	tx     Transmitter
	length uint8
}

func NewLocomotiveSender(
	table *store.LocomotiveTable,
	slot int,
	tx Transmitter,
	length uint8,
	delay time.Duration,
	period time.Duration,
	logger *zap.Logger,
) *LocomotiveSender {
	s := &LocomotiveSender{
		table:  table,
		slot:   slot,
		tx:     tx,
		length: length,
	}
	s.periodic = periodic{
		name:   fmt.Sprintf("locomotive-%d", table.Load(slot).Address),
		delay:  delay,
		period: period,
		tick:   s.send,
		logger: logger,
	}
	return s
}

// Address returns the address of the slot this sender serves.
func (s *LocomotiveSender) Address() uint8 {
	return s.table.Load(s.slot).Address
}

func (s *LocomotiveSender) send() {
	s.setState(StateAcquireLock)
	cmd := s.table.Load(s.slot) // slot lock is released here

	s.setState(StateEncode)
	t := telegram.EncodeLocomotive(cmd)

	s.setState(StateTransmit)
	s.tx.Transmit(t, s.length)
}

// AccessoryDrain sends the oldest pending accessory command every period.
// An empty queue is skipped, or answered with an Idle telegram when
// idleWhenEmpty is set.
type AccessoryDrain struct {
	periodic
	queue         *store.AccessoryQueue
	tx            Transmitter
	length        uint8
	idleWhenEmpty bool
}

func NewAccessoryDrain(
	queue *store.AccessoryQueue,
	tx Transmitter,
	length uint8,
	idleWhenEmpty bool,
	delay time.Duration,
	period time.Duration,
	logger *zap.Logger,
) *AccessoryDrain {
	d := &AccessoryDrain{
		queue:         queue,
		tx:            tx,
		length:        length,
		idleWhenEmpty: idleWhenEmpty,
	}
	d.periodic = periodic{
		name:   "accessory-drain",
		delay:  delay,
		period: period,
		tick:   d.send,
		logger: logger,
	}
	return d
}

func (d *AccessoryDrain) send() {
	d.setState(StateAcquireLock)
	cmd, ok := d.queue.DequeueFront()

	if !ok {
		if d.idleWhenEmpty {
			d.setState(StateTransmit)
			d.tx.Transmit(telegram.Idle(), d.length)
		}
		return
	}

	d.setState(StateEncode)
	t := telegram.EncodeAccessory(cmd)

	d.setState(StateTransmit)
	d.tx.Transmit(t, d.length)

	if ce := d.logger.Check(zap.DebugLevel, "Accessory command sent"); ce != nil {
		ce.Write(
			zap.Uint16("address", cmd.Address),
			zap.Uint8("device", cmd.Device),
			zap.Bool("enable", cmd.Enable))
	}
}
