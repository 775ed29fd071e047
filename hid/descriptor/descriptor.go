// Package descriptor encodes HID report descriptors from typed items.
package descriptor

// Item is one entry of a report descriptor.
type Item interface {
	appendTo(b []byte) []byte
}

// Report is a complete report descriptor.
type Report struct {
	Items []Item
}

// Bytes encodes the descriptor.
func (r Report) Bytes() []byte {
	var b []byte
	for _, it := range r.Items {
		b = it.appendTo(b)
	}
	return b
}

const (
	typeMain   = 0 << 2
	typeGlobal = 1 << 2
	typeLocal  = 2 << 2
)

const (
	tagInput         = 0x8 << 4
	tagOutput        = 0x9 << 4
	tagCollection    = 0xA << 4
	tagEndCollection = 0xC << 4

	tagUsagePage   = 0x0 << 4
	tagLogicalMin  = 0x1 << 4
	tagLogicalMax  = 0x2 << 4
	tagReportSize  = 0x7 << 4
	tagReportID    = 0x8 << 4
	tagReportCount = 0x9 << 4

	tagUsage    = 0x0 << 4
	tagUsageMin = 0x1 << 4
	tagUsageMax = 0x2 << 4
)

// Usage pages.
const (
	UsagePageGenericDesktop = 0x01
	UsagePageKeyboard       = 0x07
	UsagePageLEDs           = 0x08
	UsagePageConsumer       = 0x0C
)

// Usages.
const (
	UsageKeyboard        = 0x06
	UsageConsumerControl = 0x01
)

// Collection kinds.
const (
	CollectionPhysical    = 0x00
	CollectionApplication = 0x01
)

// Main item flags.
const (
	MainData  = 0x00
	MainConst = 0x01
	MainArray = 0x00
	MainVar   = 0x02
	MainAbs   = 0x00
	MainRel   = 0x04
)

func appendUnsigned(b []byte, prefix byte, v uint32) []byte {
	switch {
	case v <= 0xFF:
		return append(b, prefix|1, byte(v))
	case v <= 0xFFFF:
		return append(b, prefix|2, byte(v), byte(v>>8))
	default:
		return append(b, prefix|3, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
}

func appendSigned(b []byte, prefix byte, v int32) []byte {
	switch {
	case v >= -128 && v <= 127:
		return append(b, prefix|1, byte(v))
	case v >= -32768 && v <= 32767:
		return append(b, prefix|2, byte(v), byte(v>>8))
	default:
		return append(b, prefix|3, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
}

type UsagePage struct{ Page uint16 }

func (i UsagePage) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagUsagePage|typeGlobal, uint32(i.Page))
}

type Usage struct{ Usage uint16 }

func (i Usage) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagUsage|typeLocal, uint32(i.Usage))
}

type UsageMinimum struct{ Min uint16 }

func (i UsageMinimum) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagUsageMin|typeLocal, uint32(i.Min))
}

type UsageMaximum struct{ Max uint16 }

func (i UsageMaximum) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagUsageMax|typeLocal, uint32(i.Max))
}

type LogicalMinimum struct{ Min int32 }

func (i LogicalMinimum) appendTo(b []byte) []byte {
	return appendSigned(b, tagLogicalMin|typeGlobal, i.Min)
}

type LogicalMaximum struct{ Max int32 }

func (i LogicalMaximum) appendTo(b []byte) []byte {
	return appendSigned(b, tagLogicalMax|typeGlobal, i.Max)
}

type ReportSize struct{ Bits uint8 }

func (i ReportSize) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagReportSize|typeGlobal, uint32(i.Bits))
}

type ReportCount struct{ Count uint16 }

func (i ReportCount) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagReportCount|typeGlobal, uint32(i.Count))
}

type ReportID struct{ ID uint8 }

func (i ReportID) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagReportID|typeGlobal, uint32(i.ID))
}

type Input struct{ Flags uint8 }

func (i Input) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagInput|typeMain, uint32(i.Flags))
}

type Output struct{ Flags uint8 }

func (i Output) appendTo(b []byte) []byte {
	return appendUnsigned(b, tagOutput|typeMain, uint32(i.Flags))
}

// Collection wraps its items between a collection and an end-collection item.
type Collection struct {
	Kind  uint8
	Items []Item
}

func (i Collection) appendTo(b []byte) []byte {
	b = appendUnsigned(b, tagCollection|typeMain, uint32(i.Kind))
	for _, it := range i.Items {
		b = it.appendTo(b)
	}
	return append(b, tagEndCollection|typeMain)
}
