//go:build linux

package line

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "dccstation"

// OpenGPIO requests offset on chip as an output driven high, the idle
// level between frames.
func OpenGPIO(chip string, offset int) (Output, error) {
	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(1),
		gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request line %s:%d: %w", chip, offset, err)
	}
	return l, nil
}
