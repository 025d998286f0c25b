package rest

import (
	"net/http"

	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/accessories
func (s *Server) listAccessories(c *gin.Context) {
	queue := s.lm.Store().Accessories
	pending := queue.Snapshot()

	var configured interface{} = []struct{}{}
	if l := s.lm.Layout(); l != nil && len(l.Accessories) > 0 {
		configured = l.Accessories
	}

	c.JSON(http.StatusOK, gin.H{
		"pending":    pending,
		"count":      len(pending),
		"capacity":   queue.Cap(),
		"configured": configured,
	})
}

// POST /api/v1/accessories
// Either ref (a layout alias) or address and device select the output.
func (s *Server) switchAccessory(c *gin.Context) {
	var req struct {
		Ref     string  `json:"ref"`
		Address *uint16 `json:"address"`
		Device  *uint8  `json:"device"`
		Control *bool   `json:"control"`
		Enable  *bool   `json:"enable"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACC_400", "Invalid request body", err.Error()))
		return
	}

	enable := true
	if req.Enable != nil {
		enable = *req.Enable
	}

	var cmd types.AccessoryCommand
	switch {
	case req.Ref != "":
		l := s.lm.Layout()
		if l == nil {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("ACC_404", "Accessory not found", req.Ref))
			return
		}
		acc, err := l.ResolveAccessory(req.Ref)
		if err != nil {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("ACC_404", "Accessory not found", err.Error()))
			return
		}
		cmd = acc.Command(enable)

	case req.Address != nil && req.Device != nil:
		cmd = types.AccessoryCommand{
			Address: *req.Address,
			Device:  *req.Device,
			Enable:  enable,
		}

	default:
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACC_400", "Invalid request body", "ref or address and device required"))
		return
	}

	if req.Control != nil {
		cmd.Control = *req.Control
	}

	if err := cmd.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ACC_400", "Invalid accessory command", err.Error()))
		return
	}

	// a full queue is not acknowledged and surfaces as a timeout
	if err := s.lm.Delivery().SendAccessory(c.Request.Context(), cmd); err != nil {
		s.deliveryFailed(c, "ACC", cmd.Word(), err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accessory": cmd,
		"word":      cmd.Word().String(),
	})
}
