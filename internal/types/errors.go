package types

import "errors"

var (
	ErrUnknownMessageType       = errors.New("unknown message type")
	ErrUnknownLocomotiveAddress = errors.New("unknown locomotive address")
	ErrAccessoryQueueFull       = errors.New("accessory queue full")
	ErrChannelTransport         = errors.New("channel transport error")
	ErrDeliveryTimeout          = errors.New("no acknowledgement received")
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
