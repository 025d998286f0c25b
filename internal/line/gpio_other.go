//go:build !linux

package line

import "errors"

func OpenGPIO(chip string, offset int) (Output, error) {
	return nil, errors.New("gpio character device is only available on linux")
}
