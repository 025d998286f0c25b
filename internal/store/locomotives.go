package store

import (
	"fmt"
	"sync"

	"github.com/KevinKickass/dccstation/internal/types"
)

type locomotiveSlot struct {
	address uint8 // fixed at construction, read without the lock
	mu      sync.Mutex
	cmd     types.LocomotiveCommand
}

// LocomotiveTable holds one live command per configured locomotive, in
// configuration order. The set of addresses never changes after
// construction, each slot guards its command with its own lock.
type LocomotiveTable struct {
	slots []*locomotiveSlot
}

func NewLocomotiveTable(initial []types.LocomotiveCommand) (*LocomotiveTable, error) {
	t := &LocomotiveTable{slots: make([]*locomotiveSlot, 0, len(initial))}

	for _, cmd := range initial {
		if err := cmd.Validate(); err != nil {
			return nil, err
		}
		if _, exists := t.Lookup(cmd.Address); exists {
			return nil, fmt.Errorf("duplicate locomotive address %d", cmd.Address)
		}
		t.slots = append(t.slots, &locomotiveSlot{address: cmd.Address, cmd: cmd})
	}

	return t, nil
}

func (t *LocomotiveTable) Len() int {
	return len(t.slots)
}

// Lookup returns the slot index of address.
func (t *LocomotiveTable) Lookup(address uint8) (int, bool) {
	for i, s := range t.slots {
		if s.address == address {
			return i, true
		}
	}
	return -1, false
}

// Load returns a copy of the command in slot i.
func (t *LocomotiveTable) Load(i int) types.LocomotiveCommand {
	s := t.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd
}

// Store replaces the command in slot i. The slot keeps its address.
func (t *LocomotiveTable) Store(i int, cmd types.LocomotiveCommand) {
	s := t.slots[i]
	cmd.Address = s.address

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
}

// Update stores cmd in the slot configured for cmd.Address.
func (t *LocomotiveTable) Update(cmd types.LocomotiveCommand) error {
	i, ok := t.Lookup(cmd.Address)
	if !ok {
		return fmt.Errorf("address %d: %w", cmd.Address, types.ErrUnknownLocomotiveAddress)
	}
	t.Store(i, cmd)
	return nil
}

// Snapshot copies all commands in slot order.
func (t *LocomotiveTable) Snapshot() []types.LocomotiveCommand {
	out := make([]types.LocomotiveCommand, len(t.slots))
	for i := range t.slots {
		out[i] = t.Load(i)
	}
	return out
}
