package cmd

import (
	"fmt"
	"strings"

	"github.com/Alia5/MicroKB/hid"
)

// parseLEDs reads a comma or space separated list such as "caps,num".
func parseLEDs(list string) (hid.LEDState, error) {
	var st hid.LEDState
	for _, name := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ' ' }) {
		switch strings.ToLower(name) {
		case "num":
			st.NumLock = true
		case "caps":
			st.CapsLock = true
		case "scroll":
			st.ScrollLock = true
		case "compose":
			st.Compose = true
		case "kana":
			st.Kana = true
		default:
			return hid.LEDState{}, fmt.Errorf("unknown LED %q", name)
		}
	}
	return st, nil
}

// describeFrame renders the usages held in f, or "-" when nothing is held.
func describeFrame(f hid.Frame) string {
	usages := hid.Decode(f)
	if len(usages) == 0 {
		return "-"
	}
	names := make([]string, len(usages))
	for i, u := range usages {
		names[i] = hid.UsageName(u)
	}
	return strings.Join(names, " ")
}
