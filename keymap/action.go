// Package keymap resolves debounced transitions into logical actions using a
// stack of layers.
package keymap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Alia5/MicroKB/hid"
)

// Kind tags the variant held by an Action.
type Kind uint8

const (
	// KindTransparent falls through to the next lower active layer. It is the
	// zero value so unmapped table entries are transparent.
	KindTransparent Kind = iota
	// KindNone blocks lower layers and does nothing.
	KindNone
	KindKey
	KindConsumer
	KindMacro
	KindLayer
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindTransparent:
		return "transparent"
	case KindNone:
		return "none"
	case KindKey:
		return "key"
	case KindConsumer:
		return "consumer"
	case KindMacro:
		return "macro"
	case KindLayer:
		return "layer"
	case KindCustom:
		return "custom"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// LayerOp is the behavior of a layer action.
type LayerOp uint8

const (
	Momentary LayerOp = iota + 1
	Toggle
)

// Action is the closed set of things a key can do. Only the fields of the
// tagged Kind are meaningful.
type Action struct {
	Kind   Kind
	Code   uint16 // KindKey: keyboard usage, KindConsumer: consumer usage
	Layer  int
	Op     LayerOp
	Macro  string
	Handle string
}

// Key returns a keyboard-page action.
func Key(code uint8) Action { return Action{Kind: KindKey, Code: uint16(code)} }

// Consumer returns a consumer-page action.
func Consumer(usage uint16) Action { return Action{Kind: KindConsumer, Code: usage} }

// MomentaryLayer returns an action that activates layer while held.
func MomentaryLayer(layer int) Action { return Action{Kind: KindLayer, Layer: layer, Op: Momentary} }

// ToggleLayer returns an action that flips layer on each press.
func ToggleLayer(layer int) Action { return Action{Kind: KindLayer, Layer: layer, Op: Toggle} }

// Macro returns an action that plays the named macro.
func Macro(name string) Action { return Action{Kind: KindMacro, Macro: name} }

// Custom returns an action bound to a registered capability.
func Custom(handle string) Action { return Action{Kind: KindCustom, Handle: handle} }

// None returns the blocking no-op action.
func None() Action { return Action{Kind: KindNone} }

// IsModifier reports whether the action is a keyboard modifier.
func (a Action) IsModifier() bool {
	return a.Kind == KindKey && a.Code <= 0xFF && hid.IsModifier(uint8(a.Code))
}

// Usage returns the HID usage for key and consumer actions.
func (a Action) Usage() (hid.Usage, bool) {
	switch a.Kind {
	case KindKey:
		return hid.Usage{Page: hid.PageKeyboard, Code: a.Code}, true
	case KindConsumer:
		return hid.Usage{Page: hid.PageConsumer, Code: a.Code}, true
	default:
		return hid.Usage{}, false
	}
}

func (a Action) String() string {
	switch a.Kind {
	case KindTransparent:
		return "_"
	case KindNone:
		return "none"
	case KindKey, KindConsumer:
		u, _ := a.Usage()
		if a.Kind == KindConsumer {
			return "cc(" + hid.UsageName(u) + ")"
		}
		return hid.UsageName(u)
	case KindMacro:
		return "macro(" + a.Macro + ")"
	case KindLayer:
		if a.Op == Toggle {
			return "tg(" + strconv.Itoa(a.Layer) + ")"
		}
		return "mo(" + strconv.Itoa(a.Layer) + ")"
	case KindCustom:
		return "fn(" + a.Handle + ")"
	default:
		return a.Kind.String()
	}
}

// ParseAction parses the action syntax used by board files:
//
//	A, Enter, LeftShift    keyboard usages by name
//	cc(VolumeUp)           consumer usages
//	mo(1), tg(2)           momentary and toggle layers
//	macro(name)            macros
//	fn(name)               custom capabilities
//	none                   blocking no-op
//	_, trns, ""            transparent
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "_", "trns":
		return Action{}, nil
	case "none", "no":
		return None(), nil
	}

	if open := strings.IndexByte(s, '('); open > 0 && strings.HasSuffix(s, ")") {
		fn := strings.ToLower(strings.TrimSpace(s[:open]))
		arg := strings.TrimSpace(s[open+1 : len(s)-1])
		if arg == "" {
			return Action{}, fmt.Errorf("action %q: empty argument", s)
		}
		switch fn {
		case "mo", "tg":
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				return Action{}, fmt.Errorf("action %q: invalid layer %q", s, arg)
			}
			if fn == "tg" {
				return ToggleLayer(n), nil
			}
			return MomentaryLayer(n), nil
		case "cc":
			usage, ok := hid.LookupConsumer(arg)
			if !ok {
				return Action{}, fmt.Errorf("action %q: unknown consumer usage %q", s, arg)
			}
			return Consumer(usage), nil
		case "macro":
			return Macro(arg), nil
		case "fn":
			return Custom(strings.ToLower(arg)), nil
		default:
			return Action{}, fmt.Errorf("action %q: unknown function %q", s, fn)
		}
	}

	code, ok := hid.LookupKey(s)
	if !ok {
		return Action{}, fmt.Errorf("unknown key %q", s)
	}
	return Key(code), nil
}
