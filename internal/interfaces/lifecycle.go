package interfaces

import (
	"context"

	"github.com/KevinKickass/dccstation/internal/config"
	"github.com/KevinKickass/dccstation/internal/delivery"
	"github.com/KevinKickass/dccstation/internal/handler"
	"github.com/KevinKickass/dccstation/internal/layout"
	"github.com/KevinKickass/dccstation/internal/line"
	"github.com/KevinKickass/dccstation/internal/sender"
	"github.com/KevinKickass/dccstation/internal/store"
)

// SystemStatus represents the current station state
type SystemStatus struct {
	State             string                `json:"state"`
	Locomotives       int                   `json:"locomotives"`
	QueuedAccessories int                   `json:"queued_accessories"`
	AccessoryCapacity int                   `json:"accessory_capacity"`
	Line              line.Stats            `json:"line"`
	Commands          handler.Stats         `json:"commands"`
	Senders           []sender.SenderStatus `json:"senders"`
}

type LifecycleManager interface {
	Config() *config.Config
	Layout() *layout.Layout
	Store() *store.CommandStore
	Delivery() *delivery.Client
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
