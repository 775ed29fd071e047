// Package hid implements the boot-compatible keyboard and consumer-control
// report formats sent to the host, and the descriptors that declare them.
package hid

import (
	"encoding/binary"
	"io"
)

// KeySlots is the number of simultaneously reported non-modifier keys.
const KeySlots = 6

const (
	KeyboardReportSize = 2 + KeySlots
	ConsumerReportSize = 2
)

// Report IDs used by transports that multiplex several reports on one link.
const (
	ReportIDKeyboard = 0x01
	ReportIDConsumer = 0x02
)

// ReportBuilder is implemented by report types that can produce their wire bytes.
type ReportBuilder interface {
	// BuildReport encodes the report into a byte slice for transfer.
	BuildReport() []byte
}

// Page is a HID usage page.
type Page uint8

const (
	PageKeyboard Page = 0x07
	PageConsumer Page = 0x0C
)

// Usage identifies one held control.
type Usage struct {
	Page Page
	Code uint16
}

// KeyboardReport is the 8-byte boot keyboard input report.
type KeyboardReport struct {
	Modifiers uint8 // bit 0-7: LCtrl, LShift, LAlt, LGui, RCtrl, RShift, RAlt, RGui
	Keys      [KeySlots]uint8
}

// BuildReport encodes the keyboard report.
//
// Report layout (8 bytes):
//
//	Byte 0: Modifiers (8 bits)
//	Byte 1: Reserved (0x00)
//	Bytes 2-7: Key usages, zero for empty slots
func (r KeyboardReport) BuildReport() []byte {
	b := make([]byte, KeyboardReportSize)
	b[0] = r.Modifiers
	b[1] = 0x00
	copy(b[2:], r.Keys[:])
	return b
}

// UnmarshalBinary decodes an 8-byte keyboard report.
func (r *KeyboardReport) UnmarshalBinary(data []byte) error {
	if len(data) < KeyboardReportSize {
		return io.ErrUnexpectedEOF
	}
	r.Modifiers = data[0]
	copy(r.Keys[:], data[2:KeyboardReportSize])
	return nil
}

// ConsumerReport carries one consumer-control usage (0 = released).
type ConsumerReport struct {
	Usage uint16
}

// BuildReport encodes the usage little endian.
func (r ConsumerReport) BuildReport() []byte {
	b := make([]byte, ConsumerReportSize)
	binary.LittleEndian.PutUint16(b, r.Usage)
	return b
}

// UnmarshalBinary decodes a 2-byte consumer report.
func (r *ConsumerReport) UnmarshalBinary(data []byte) error {
	if len(data) < ConsumerReportSize {
		return io.ErrUnexpectedEOF
	}
	r.Usage = binary.LittleEndian.Uint16(data)
	return nil
}

// Frame is everything a transport sends in one dispatch cycle. It is a
// comparable value so transports can skip frames identical to the last one.
type Frame struct {
	Keyboard KeyboardReport
	Consumer ConsumerReport
}

// Empty reports whether nothing is held.
func (f Frame) Empty() bool {
	return f == Frame{}
}

// Build composes a frame from held usages ordered oldest press first. When
// more than KeySlots keys are held, the most recently pressed ones are
// reported. The result only depends on the held slice, so repeated builds
// yield identical frames.
func Build(held []Usage) Frame {
	var f Frame
	var keys [KeySlots]uint8
	n := 0
	for i := len(held) - 1; i >= 0; i-- {
		u := held[i]
		switch u.Page {
		case PageKeyboard:
			code := uint8(u.Code)
			if u.Code > 0xFF || code == KeyNone {
				continue
			}
			if IsModifier(code) {
				f.Keyboard.Modifiers |= ModifierBit(code)
				continue
			}
			if n == KeySlots || containsKey(keys[:n], code) {
				continue
			}
			keys[n] = code
			n++
		case PageConsumer:
			if f.Consumer.Usage == ConsumerNone {
				f.Consumer.Usage = u.Code
			}
		}
	}
	// keys were collected newest first; report them in press order
	for i := 0; i < n; i++ {
		f.Keyboard.Keys[i] = keys[n-1-i]
	}
	return f
}

func containsKey(keys []uint8, code uint8) bool {
	for _, k := range keys {
		if k == code {
			return true
		}
	}
	return false
}

// Decode recovers the usages a frame reports: modifiers in bit order, then
// keys in slot order, then the consumer usage.
func Decode(f Frame) []Usage {
	var out []Usage
	for bit := 0; bit < 8; bit++ {
		if f.Keyboard.Modifiers&(1<<bit) != 0 {
			out = append(out, Usage{Page: PageKeyboard, Code: uint16(KeyLeftCtrl + bit)})
		}
	}
	for _, k := range f.Keyboard.Keys {
		if k != KeyNone {
			out = append(out, Usage{Page: PageKeyboard, Code: uint16(k)})
		}
	}
	if f.Consumer.Usage != ConsumerNone {
		out = append(out, Usage{Page: PageConsumer, Code: f.Consumer.Usage})
	}
	return out
}

// LEDState is the host-controlled keyboard LED output report.
type LEDState struct {
	NumLock    bool
	CapsLock   bool
	ScrollLock bool
	Compose    bool
	Kana       bool
}

// UnmarshalBinary decodes a 1-byte LED bitmask into LEDState.
func (st *LEDState) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return io.ErrUnexpectedEOF
	}
	b := data[0]
	st.NumLock = b&LEDNumLock != 0
	st.CapsLock = b&LEDCapsLock != 0
	st.ScrollLock = b&LEDScrollLock != 0
	st.Compose = b&LEDCompose != 0
	st.Kana = b&LEDKana != 0
	return nil
}

// MarshalBinary encodes LEDState into the 1-byte bitmask.
func (st LEDState) MarshalBinary() ([]byte, error) {
	var b uint8
	if st.NumLock {
		b |= LEDNumLock
	}
	if st.CapsLock {
		b |= LEDCapsLock
	}
	if st.ScrollLock {
		b |= LEDScrollLock
	}
	if st.Compose {
		b |= LEDCompose
	}
	if st.Kana {
		b |= LEDKana
	}
	return []byte{b}, nil
}

// UsageName renders a usage for logs and the status display.
func UsageName(u Usage) string {
	switch u.Page {
	case PageKeyboard:
		if n, ok := KeyName[uint8(u.Code)]; ok && u.Code <= 0xFF {
			return n
		}
	case PageConsumer:
		if n, ok := ConsumerName[u.Code]; ok {
			return n
		}
	}
	return "?"
}
