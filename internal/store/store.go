// Package store holds the live command state shared by the channel handler
// and the periodic senders.
package store

import (
	"fmt"

	"github.com/KevinKickass/dccstation/internal/types"
)

type CommandStore struct {
	Locomotives *LocomotiveTable
	Accessories *AccessoryQueue
}

func New(locomotives []types.LocomotiveCommand, accessoryCapacity int) (*CommandStore, error) {
	table, err := NewLocomotiveTable(locomotives)
	if err != nil {
		return nil, fmt.Errorf("failed to build locomotive table: %w", err)
	}

	return &CommandStore{
		Locomotives: table,
		Accessories: NewAccessoryQueue(accessoryCapacity),
	}, nil
}
