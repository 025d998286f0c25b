package store

import (
	"sync"

	"github.com/KevinKickass/dccstation/internal/types"
)

const DefaultAccessoryCapacity = 4

// AccessoryQueue is a bounded FIFO of pending accessory commands, at most
// one per output. A single lock guards the whole queue.
type AccessoryQueue struct {
	mu       sync.Mutex
	items    []types.AccessoryCommand
	capacity int
}

// NewAccessoryQueue creates an empty queue. A capacity below 1 selects
// DefaultAccessoryCapacity.
func NewAccessoryQueue(capacity int) *AccessoryQueue {
	if capacity < 1 {
		capacity = DefaultAccessoryCapacity
	}
	return &AccessoryQueue{
		items:    make([]types.AccessoryCommand, 0, capacity),
		capacity: capacity,
	}
}

// EnqueueOrUpdate overwrites the pending command for the same output in
// place, keeping its position, or appends cmd at the back.
func (q *AccessoryQueue) EnqueueOrUpdate(cmd types.AccessoryCommand) (updated bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].SameOutput(cmd) {
			q.items[i] = cmd
			return true, nil
		}
	}

	if len(q.items) == q.capacity {
		return false, types.ErrAccessoryQueueFull
	}

	q.items = append(q.items, cmd)
	return false, nil
}

// DequeueFront removes and returns the oldest command.
func (q *AccessoryQueue) DequeueFront() (types.AccessoryCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return types.AccessoryCommand{}, false
	}

	cmd := q.items[0]
	n := copy(q.items, q.items[1:])
	q.items = q.items[:n]

	return cmd, true
}

func (q *AccessoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *AccessoryQueue) Cap() int {
	return q.capacity
}

func (q *AccessoryQueue) Snapshot() []types.AccessoryCommand {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.AccessoryCommand, len(q.items))
	copy(out, q.items)
	return out
}
