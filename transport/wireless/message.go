package wireless

import (
	"fmt"
	"io"

	"github.com/Alia5/MicroKB/hid"
)

// Sealed message types. Each message is a type byte followed by a fixed size
// payload.
const (
	msgFrame byte = 0x01 // keyboard -> host: keyboard report[8] | consumer report[2]
	msgLEDs  byte = 0x03 // host -> keyboard: LED output report[1]
	msgBond  byte = 0x10 // keyboard -> host, once after pairing: bond key[32]
)

func payloadSize(kind byte) (int, bool) {
	switch kind {
	case msgFrame:
		return hid.KeyboardReportSize + hid.ConsumerReportSize, true
	case msgLEDs:
		return 1, true
	case msgBond:
		return KeySize, true
	default:
		return 0, false
	}
}

func frameMessage(f hid.Frame) []byte {
	b := make([]byte, 0, 1+hid.KeyboardReportSize+hid.ConsumerReportSize)
	b = append(b, msgFrame)
	b = append(b, f.Keyboard.BuildReport()...)
	return append(b, f.Consumer.BuildReport()...)
}

func decodeFrame(payload []byte) (hid.Frame, error) {
	var f hid.Frame
	if err := f.Keyboard.UnmarshalBinary(payload); err != nil {
		return f, err
	}
	err := f.Consumer.UnmarshalBinary(payload[hid.KeyboardReportSize:])
	return f, err
}

func readMessage(r io.Reader) (kind byte, payload []byte, err error) {
	var k [1]byte
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return 0, nil, err
	}
	n, ok := payloadSize(k[0])
	if !ok {
		return 0, nil, fmt.Errorf("unknown message type %#x", k[0])
	}
	payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return k[0], payload, nil
}
