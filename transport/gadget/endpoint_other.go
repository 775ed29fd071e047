//go:build !linux

package gadget

import (
	"errors"
	"fmt"
)

func openEndpoint(path string) (endpoint, error) {
	return nil, fmt.Errorf("%s: usb hid gadget: %w", path, errors.ErrUnsupported)
}
