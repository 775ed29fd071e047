//go:build !linux

package matrix

import "errors"

// SPIConfig describes a chain wired to a spidev bus with the parallel-load
// line on a sysfs GPIO.
type SPIConfig struct {
	Device    string
	Mode      uint8
	SpeedHz   uint32
	LatchGPIO int
	LSBFirst  bool
}

// SPIChain is only available on linux.
type SPIChain struct{}

// OpenSPI always fails outside linux.
func OpenSPI(cfg SPIConfig) (*SPIChain, error) {
	return nil, errors.ErrUnsupported
}

func (c *SPIChain) Load() error               { return errors.ErrUnsupported }
func (c *SPIChain) ReadInto(buf []byte) error { return errors.ErrUnsupported }
func (c *SPIChain) Close() error              { return nil }
