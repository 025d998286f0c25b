package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/KevinKickass/dccstation/internal/layout"
	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// speedStep accepts a number or "stop" / "e-stop".
type speedStep uint8

func (s *speedStep) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		raw = strings.TrimSpace(string(data))
	}
	v, err := types.ParseSpeed(raw)
	if err != nil {
		return err
	}
	*s = speedStep(v)
	return nil
}

type locomotiveView struct {
	Alias string `json:"alias,omitempty"`
	types.LocomotiveCommand
}

// GET /api/v1/locomotives
func (s *Server) listLocomotives(c *gin.Context) {
	aliases := make(map[uint8]string)
	if l := s.lm.Layout(); l != nil {
		for _, loco := range l.Locomotives {
			aliases[loco.Address] = loco.Alias
		}
	}

	snapshot := s.lm.Store().Locomotives.Snapshot()
	response := make([]locomotiveView, 0, len(snapshot))
	for _, cmd := range snapshot {
		response = append(response, locomotiveView{
			Alias:             aliases[cmd.Address],
			LocomotiveCommand: cmd,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"locomotives": response,
		"count":       len(response),
	})
}

// PUT /api/v1/locomotives/:ref
// Fields left out of the body keep the current slot value.
func (s *Server) updateLocomotive(c *gin.Context) {
	var req struct {
		Speed     *speedStep       `json:"speed"`
		Direction *types.Direction `json:"direction"`
		Light     *bool            `json:"light"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("LOCO_400", "Invalid request body", err.Error()))
		return
	}

	ref := c.Param("ref")
	address, err := s.resolveLocomotive(ref)
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("LOCO_404", "Locomotive not found", err.Error()))
		return
	}

	slots := s.lm.Store().Locomotives
	i, ok := slots.Lookup(address)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("LOCO_404", "Locomotive not found", ref))
		return
	}

	cmd := slots.Load(i)
	if req.Speed != nil {
		cmd.Speed = uint8(*req.Speed)
	}
	if req.Direction != nil {
		cmd.Direction = *req.Direction
	}
	if req.Light != nil {
		cmd.Light = *req.Light
	}

	if err := cmd.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("LOCO_400", "Invalid locomotive command", err.Error()))
		return
	}

	if err := s.lm.Delivery().SendLocomotive(c.Request.Context(), cmd); err != nil {
		s.deliveryFailed(c, "LOCO", cmd.Word(), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"locomotive": cmd,
		"word":       cmd.Word().String(),
	})
}

func (s *Server) resolveLocomotive(ref string) (uint8, error) {
	l := s.lm.Layout()
	if l == nil {
		return 0, layout.ErrNotFound
	}
	loco, err := l.ResolveLocomotive(ref)
	if err != nil {
		return 0, err
	}
	return loco.Address, nil
}

// deliveryFailed maps delivery errors to HTTP status codes.
func (s *Server) deliveryFailed(c *gin.Context, prefix string, word types.Word, err error) {
	s.logger.Warn("Command delivery failed",
		zap.Stringer("word", word),
		zap.String("request_id", c.GetString("request_id")),
		zap.Error(err))

	switch {
	case errors.Is(err, types.ErrDeliveryTimeout):
		c.JSON(http.StatusGatewayTimeout, types.NewErrorResponse(prefix+"_504", "Command not acknowledged", err.Error()))
	case errors.Is(err, types.ErrChannelTransport):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(prefix+"_503", "Command channel unavailable", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(prefix+"_500", "Command delivery failed", err.Error()))
	}
}
