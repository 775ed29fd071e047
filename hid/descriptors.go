package hid

import d "github.com/Alia5/MicroKB/hid/descriptor"

// KeyboardDescriptor declares the boot-compatible keyboard report built by
// KeyboardReport.BuildReport, plus the 1-byte LED output report.
var KeyboardDescriptor = d.Report{
	Items: []d.Item{
		d.UsagePage{Page: d.UsagePageGenericDesktop},
		d.Usage{Usage: d.UsageKeyboard},
		d.Collection{
			Kind: d.CollectionApplication,
			Items: []d.Item{
				// Input: modifiers (1 byte)
				d.UsagePage{Page: d.UsagePageKeyboard},
				d.UsageMinimum{Min: KeyLeftCtrl},
				d.UsageMaximum{Max: KeyRightGUI},
				d.LogicalMinimum{Min: 0},
				d.LogicalMaximum{Max: 1},
				d.ReportSize{Bits: 1},
				d.ReportCount{Count: 8},
				d.Input{Flags: d.MainData | d.MainVar | d.MainAbs},

				// Input: reserved (1 byte)
				d.ReportSize{Bits: 8},
				d.ReportCount{Count: 1},
				d.Input{Flags: d.MainConst},

				// Output: LEDs (5 bits + 3 bits padding)
				d.UsagePage{Page: d.UsagePageLEDs},
				d.UsageMinimum{Min: 0x01},
				d.UsageMaximum{Max: 0x05},
				d.ReportSize{Bits: 1},
				d.ReportCount{Count: 5},
				d.Output{Flags: d.MainData | d.MainVar | d.MainAbs},
				d.ReportSize{Bits: 3},
				d.ReportCount{Count: 1},
				d.Output{Flags: d.MainConst},

				// Input: key array (6 bytes)
				d.UsagePage{Page: d.UsagePageKeyboard},
				d.UsageMinimum{Min: 0x00},
				d.UsageMaximum{Max: 0xFF},
				d.LogicalMinimum{Min: 0},
				d.LogicalMaximum{Max: 0xFF},
				d.ReportSize{Bits: 8},
				d.ReportCount{Count: KeySlots},
				d.Input{Flags: d.MainData | d.MainArray | d.MainAbs},
			},
		},
	},
}

// ConsumerDescriptor declares the 2-byte consumer control report.
var ConsumerDescriptor = d.Report{
	Items: []d.Item{
		d.UsagePage{Page: d.UsagePageConsumer},
		d.Usage{Usage: d.UsageConsumerControl},
		d.Collection{
			Kind: d.CollectionApplication,
			Items: []d.Item{
				d.LogicalMinimum{Min: 0},
				d.LogicalMaximum{Max: 0x3FF},
				d.UsageMinimum{Min: 0x000},
				d.UsageMaximum{Max: 0x3FF},
				d.ReportSize{Bits: 16},
				d.ReportCount{Count: 1},
				d.Input{Flags: d.MainData | d.MainArray | d.MainAbs},
			},
		},
	},
}
