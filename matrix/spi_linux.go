//go:build linux

package matrix

import (
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/sys/unix"
)

// spidev ioctl requests (linux/spi/spidev.h).
const (
	spiIocWrMode        = 0x40016b01
	spiIocWrLSBFirst    = 0x40016b02
	spiIocWrMaxSpeedHz  = 0x40046b04
	defaultSPISpeedHz   = 4_000_000
	gpioValuePathFormat = "/sys/class/gpio/gpio%d/value"
)

// SPIConfig describes a chain wired to a spidev bus with the parallel-load
// line on a sysfs GPIO.
type SPIConfig struct {
	Device    string
	Mode      uint8
	SpeedHz   uint32
	LatchGPIO int
	LSBFirst  bool
}

// SPIChain reads a 74HC165-style chain through spidev.
type SPIChain struct {
	fd       int
	latchFd  int
	reverse  bool
	pulseLow []byte
	pulseHi  []byte
}

// OpenSPI opens the spidev device and the latch GPIO value file.
func OpenSPI(cfg SPIConfig) (*SPIChain, error) {
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	c := &SPIChain{fd: fd, latchFd: -1, pulseLow: []byte("0"), pulseHi: []byte("1")}

	// spidev reads these as u8/u32 through the pointer; the low byte comes first on little endian hosts.
	if err := unix.IoctlSetPointerInt(fd, spiIocWrMode, int(cfg.Mode)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set spi mode: %w", err)
	}
	speed := cfg.SpeedHz
	if speed == 0 {
		speed = defaultSPISpeedHz
	}
	if err := unix.IoctlSetPointerInt(fd, spiIocWrMaxSpeedHz, int(speed)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set spi speed: %w", err)
	}
	if cfg.LSBFirst {
		if err := unix.IoctlSetPointerInt(fd, spiIocWrLSBFirst, 1); err != nil {
			// many controllers only shift MSB first
			c.reverse = true
		}
	} else {
		c.reverse = true
	}

	path := fmt.Sprintf(gpioValuePathFormat, cfg.LatchGPIO)
	c.latchFd, err = unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open latch %s: %w", path, err)
	}
	return c, nil
}

// Load pulses the parallel-load line low then high.
func (c *SPIChain) Load() error {
	if _, err := unix.Pwrite(c.latchFd, c.pulseLow, 0); err != nil {
		return err
	}
	_, err := unix.Pwrite(c.latchFd, c.pulseHi, 0)
	return err
}

func (c *SPIChain) ReadInto(buf []byte) error {
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrUnexpectedEOF
	}
	if c.reverse {
		for i, b := range buf {
			buf[i] = bits.Reverse8(b)
		}
	}
	return nil
}

// Close releases both file descriptors.
func (c *SPIChain) Close() error {
	var err error
	if c.latchFd >= 0 {
		err = unix.Close(c.latchFd)
		c.latchFd = -1
	}
	if c.fd >= 0 {
		if cerr := unix.Close(c.fd); cerr != nil && err == nil {
			err = cerr
		}
		c.fd = -1
	}
	return err
}
