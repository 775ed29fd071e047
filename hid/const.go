package hid

import "strings"

// Modifier bitmasks of the first report byte.
const (
	ModLeftCtrl   = 0x01
	ModLeftShift  = 0x02
	ModLeftAlt    = 0x04
	ModLeftGUI    = 0x08 // Windows/Command key
	ModRightCtrl  = 0x10
	ModRightShift = 0x20
	ModRightAlt   = 0x40
	ModRightGUI   = 0x80
)

// LED bitmasks of the host output report.
const (
	LEDNumLock    = 0x01
	LEDCapsLock   = 0x02
	LEDScrollLock = 0x04
	LEDCompose    = 0x08
	LEDKana       = 0x10
)

// HID usage codes for keyboard keys (USB HID Keyboard/Keypad usage page 0x07).
const (
	KeyNone = 0x00

	KeyA = 0x04
	KeyB = 0x05
	KeyC = 0x06
	KeyD = 0x07
	KeyE = 0x08
	KeyF = 0x09
	KeyG = 0x0A
	KeyH = 0x0B
	KeyI = 0x0C
	KeyJ = 0x0D
	KeyK = 0x0E
	KeyL = 0x0F
	KeyM = 0x10
	KeyN = 0x11
	KeyO = 0x12
	KeyP = 0x13
	KeyQ = 0x14
	KeyR = 0x15
	KeyS = 0x16
	KeyT = 0x17
	KeyU = 0x18
	KeyV = 0x19
	KeyW = 0x1A
	KeyX = 0x1B
	KeyY = 0x1C
	KeyZ = 0x1D

	Key1 = 0x1E
	Key2 = 0x1F
	Key3 = 0x20
	Key4 = 0x21
	Key5 = 0x22
	Key6 = 0x23
	Key7 = 0x24
	Key8 = 0x25
	Key9 = 0x26
	Key0 = 0x27

	KeyEnter      = 0x28
	KeyEscape     = 0x29
	KeyBackspace  = 0x2A
	KeyTab        = 0x2B
	KeySpace      = 0x2C
	KeyMinus      = 0x2D // - and _
	KeyEqual      = 0x2E // = and +
	KeyLeftBrace  = 0x2F // [ and {
	KeyRightBrace = 0x30 // ] and }
	KeyBackslash  = 0x31 // \ and |
	KeyNonUSHash  = 0x32 // Non-US # and ~
	KeySemicolon  = 0x33 // ; and :
	KeyApostrophe = 0x34 // ' and "
	KeyGrave      = 0x35 // ` and ~
	KeyComma      = 0x36 // , and <
	KeyPeriod     = 0x37 // . and >
	KeySlash      = 0x38 // / and ?
	KeyCapsLock   = 0x39

	KeyF1  = 0x3A
	KeyF2  = 0x3B
	KeyF3  = 0x3C
	KeyF4  = 0x3D
	KeyF5  = 0x3E
	KeyF6  = 0x3F
	KeyF7  = 0x40
	KeyF8  = 0x41
	KeyF9  = 0x42
	KeyF10 = 0x43
	KeyF11 = 0x44
	KeyF12 = 0x45

	KeyPrintScreen = 0x46
	KeyScrollLock  = 0x47
	KeyPause       = 0x48
	KeyInsert      = 0x49
	KeyHome        = 0x4A
	KeyPageUp      = 0x4B
	KeyDelete      = 0x4C
	KeyEnd         = 0x4D
	KeyPageDown    = 0x4E

	KeyRight = 0x4F
	KeyLeft  = 0x50
	KeyDown  = 0x51
	KeyUp    = 0x52

	KeyNumLock    = 0x53
	KeyKpSlash    = 0x54
	KeyKpAsterisk = 0x55
	KeyKpMinus    = 0x56
	KeyKpPlus     = 0x57
	KeyKpEnter    = 0x58
	KeyKp1        = 0x59
	KeyKp2        = 0x5A
	KeyKp3        = 0x5B
	KeyKp4        = 0x5C
	KeyKp5        = 0x5D
	KeyKp6        = 0x5E
	KeyKp7        = 0x5F
	KeyKp8        = 0x60
	KeyKp9        = 0x61
	KeyKp0        = 0x62
	KeyKpDot      = 0x63

	KeyNonUSBackslash = 0x64
	KeyApplication    = 0x65 // Windows Menu key
	KeyPower          = 0x66
	KeyKpEqual        = 0x67

	KeyF13 = 0x68
	KeyF14 = 0x69
	KeyF15 = 0x6A
	KeyF16 = 0x6B
	KeyF17 = 0x6C
	KeyF18 = 0x6D
	KeyF19 = 0x6E
	KeyF20 = 0x6F
	KeyF21 = 0x70
	KeyF22 = 0x71
	KeyF23 = 0x72
	KeyF24 = 0x73

	// Modifier usages. These never occupy a key slot, they map onto the
	// modifier byte (bit = usage - KeyLeftCtrl).
	KeyLeftCtrl   = 0xE0
	KeyLeftShift  = 0xE1
	KeyLeftAlt    = 0xE2
	KeyLeftGUI    = 0xE3
	KeyRightCtrl  = 0xE4
	KeyRightShift = 0xE5
	KeyRightAlt   = 0xE6
	KeyRightGUI   = 0xE7
)

// Consumer page (0x0C) usages for media keys.
const (
	ConsumerNone          = 0x0000
	ConsumerScanNext      = 0x00B5
	ConsumerScanPrevious  = 0x00B6
	ConsumerStop          = 0x00B7
	ConsumerPlayPause     = 0x00CD
	ConsumerMute          = 0x00E2
	ConsumerVolumeUp      = 0x00E9
	ConsumerVolumeDown    = 0x00EA
	ConsumerBrightnessUp  = 0x006F
	ConsumerBrightnessDn  = 0x0070
	ConsumerCalculator    = 0x0192
	ConsumerBrowserHome   = 0x0223
	ConsumerBrowserBack   = 0x0224
	ConsumerBrowserFwd    = 0x0225
	ConsumerBrowserReload = 0x0227
)

// IsModifier reports whether usage is one of the eight modifier usages.
func IsModifier(usage uint8) bool {
	return usage >= KeyLeftCtrl && usage <= KeyRightGUI
}

// ModifierBit returns the modifier byte bit for a modifier usage, 0 otherwise.
func ModifierBit(usage uint8) uint8 {
	if !IsModifier(usage) {
		return 0
	}
	return 1 << (usage - KeyLeftCtrl)
}

// KeyName maps keyboard usage codes to human-readable names.
var KeyName = map[uint8]string{
	KeyA: "A", KeyB: "B", KeyC: "C", KeyD: "D", KeyE: "E", KeyF: "F", KeyG: "G",
	KeyH: "H", KeyI: "I", KeyJ: "J", KeyK: "K", KeyL: "L", KeyM: "M", KeyN: "N",
	KeyO: "O", KeyP: "P", KeyQ: "Q", KeyR: "R", KeyS: "S", KeyT: "T", KeyU: "U",
	KeyV: "V", KeyW: "W", KeyX: "X", KeyY: "Y", KeyZ: "Z",

	Key1: "1", Key2: "2", Key3: "3", Key4: "4", Key5: "5",
	Key6: "6", Key7: "7", Key8: "8", Key9: "9", Key0: "0",

	KeyEnter:          "Enter",
	KeyEscape:         "Escape",
	KeyBackspace:      "Backspace",
	KeyTab:            "Tab",
	KeySpace:          "Space",
	KeyMinus:          "Minus",
	KeyEqual:          "Equal",
	KeyLeftBrace:      "LeftBrace",
	KeyRightBrace:     "RightBrace",
	KeyBackslash:      "Backslash",
	KeyNonUSHash:      "NonUSHash",
	KeySemicolon:      "Semicolon",
	KeyApostrophe:     "Apostrophe",
	KeyGrave:          "Grave",
	KeyComma:          "Comma",
	KeyPeriod:         "Period",
	KeySlash:          "Slash",
	KeyCapsLock:       "CapsLock",
	KeyNonUSBackslash: "NonUSBackslash",

	KeyF1: "F1", KeyF2: "F2", KeyF3: "F3", KeyF4: "F4", KeyF5: "F5", KeyF6: "F6",
	KeyF7: "F7", KeyF8: "F8", KeyF9: "F9", KeyF10: "F10", KeyF11: "F11", KeyF12: "F12",
	KeyF13: "F13", KeyF14: "F14", KeyF15: "F15", KeyF16: "F16", KeyF17: "F17", KeyF18: "F18",
	KeyF19: "F19", KeyF20: "F20", KeyF21: "F21", KeyF22: "F22", KeyF23: "F23", KeyF24: "F24",

	KeyPrintScreen: "PrintScreen",
	KeyScrollLock:  "ScrollLock",
	KeyPause:       "Pause",
	KeyInsert:      "Insert",
	KeyHome:        "Home",
	KeyPageUp:      "PageUp",
	KeyDelete:      "Delete",
	KeyEnd:         "End",
	KeyPageDown:    "PageDown",

	KeyRight: "Right",
	KeyLeft:  "Left",
	KeyDown:  "Down",
	KeyUp:    "Up",

	KeyNumLock:    "NumLock",
	KeyKpSlash:    "KpSlash",
	KeyKpAsterisk: "KpAsterisk",
	KeyKpMinus:    "KpMinus",
	KeyKpPlus:     "KpPlus",
	KeyKpEnter:    "KpEnter",
	KeyKp1:        "Kp1",
	KeyKp2:        "Kp2",
	KeyKp3:        "Kp3",
	KeyKp4:        "Kp4",
	KeyKp5:        "Kp5",
	KeyKp6:        "Kp6",
	KeyKp7:        "Kp7",
	KeyKp8:        "Kp8",
	KeyKp9:        "Kp9",
	KeyKp0:        "Kp0",
	KeyKpDot:      "KpDot",
	KeyKpEqual:    "KpEqual",

	KeyApplication: "Application",
	KeyPower:       "Power",

	KeyLeftCtrl:   "LeftCtrl",
	KeyLeftShift:  "LeftShift",
	KeyLeftAlt:    "LeftAlt",
	KeyLeftGUI:    "LeftGUI",
	KeyRightCtrl:  "RightCtrl",
	KeyRightShift: "RightShift",
	KeyRightAlt:   "RightAlt",
	KeyRightGUI:   "RightGUI",
}

// ConsumerName maps consumer usages to names.
var ConsumerName = map[uint16]string{
	ConsumerScanNext:      "Next",
	ConsumerScanPrevious:  "Previous",
	ConsumerStop:          "Stop",
	ConsumerPlayPause:     "PlayPause",
	ConsumerMute:          "Mute",
	ConsumerVolumeUp:      "VolumeUp",
	ConsumerVolumeDown:    "VolumeDown",
	ConsumerBrightnessUp:  "BrightnessUp",
	ConsumerBrightnessDn:  "BrightnessDown",
	ConsumerCalculator:    "Calculator",
	ConsumerBrowserHome:   "BrowserHome",
	ConsumerBrowserBack:   "BrowserBack",
	ConsumerBrowserFwd:    "BrowserForward",
	ConsumerBrowserReload: "BrowserReload",
}

// keyAliases are the short spellings accepted in board files on top of KeyName.
var keyAliases = map[string]uint8{
	"esc":    KeyEscape,
	"bspc":   KeyBackspace,
	"del":    KeyDelete,
	"ins":    KeyInsert,
	"pgup":   KeyPageUp,
	"pgdn":   KeyPageDown,
	"caps":   KeyCapsLock,
	"lctrl":  KeyLeftCtrl,
	"lshift": KeyLeftShift,
	"lalt":   KeyLeftAlt,
	"lgui":   KeyLeftGUI,
	"rctrl":  KeyRightCtrl,
	"rshift": KeyRightShift,
	"ralt":   KeyRightAlt,
	"rgui":   KeyRightGUI,
	"menu":   KeyApplication,
}

var (
	keyByName      = map[string]uint8{}
	consumerByName = map[string]uint16{}
)

func init() {
	for code, name := range KeyName {
		keyByName[strings.ToLower(name)] = code
	}
	for alias, code := range keyAliases {
		keyByName[alias] = code
	}
	for code, name := range ConsumerName {
		consumerByName[strings.ToLower(name)] = code
	}
}

// LookupKey resolves a keyboard usage by name (case-insensitive).
func LookupKey(name string) (uint8, bool) {
	code, ok := keyByName[strings.ToLower(strings.TrimSpace(name))]
	return code, ok
}

// LookupConsumer resolves a consumer usage by name (case-insensitive).
func LookupConsumer(name string) (uint16, bool) {
	code, ok := consumerByName[strings.ToLower(strings.TrimSpace(name))]
	return code, ok
}

// CharToKey maps ASCII characters to their keyboard usage. Characters listed
// in ShiftChars additionally need the shift modifier.
var CharToKey = map[byte]uint8{
	'a': KeyA, 'b': KeyB, 'c': KeyC, 'd': KeyD, 'e': KeyE, 'f': KeyF, 'g': KeyG,
	'h': KeyH, 'i': KeyI, 'j': KeyJ, 'k': KeyK, 'l': KeyL, 'm': KeyM, 'n': KeyN,
	'o': KeyO, 'p': KeyP, 'q': KeyQ, 'r': KeyR, 's': KeyS, 't': KeyT, 'u': KeyU,
	'v': KeyV, 'w': KeyW, 'x': KeyX, 'y': KeyY, 'z': KeyZ,

	'A': KeyA, 'B': KeyB, 'C': KeyC, 'D': KeyD, 'E': KeyE, 'F': KeyF, 'G': KeyG,
	'H': KeyH, 'I': KeyI, 'J': KeyJ, 'K': KeyK, 'L': KeyL, 'M': KeyM, 'N': KeyN,
	'O': KeyO, 'P': KeyP, 'Q': KeyQ, 'R': KeyR, 'S': KeyS, 'T': KeyT, 'U': KeyU,
	'V': KeyV, 'W': KeyW, 'X': KeyX, 'Y': KeyY, 'Z': KeyZ,

	'1': Key1, '2': Key2, '3': Key3, '4': Key4, '5': Key5,
	'6': Key6, '7': Key7, '8': Key8, '9': Key9, '0': Key0,

	'!': Key1, '@': Key2, '#': Key3, '$': Key4, '%': Key5,
	'^': Key6, '&': Key7, '*': Key8, '(': Key9, ')': Key0,

	'-': KeyMinus, '=': KeyEqual, '[': KeyLeftBrace, ']': KeyRightBrace,
	'\\': KeyBackslash, ';': KeySemicolon, '\'': KeyApostrophe, '`': KeyGrave,
	',': KeyComma, '.': KeyPeriod, '/': KeySlash,

	'_': KeyMinus, '+': KeyEqual, '{': KeyLeftBrace, '}': KeyRightBrace,
	'|': KeyBackslash, ':': KeySemicolon, '"': KeyApostrophe, '~': KeyGrave,
	'<': KeyComma, '>': KeyPeriod, '?': KeySlash,

	' ':  KeySpace,
	'\n': KeyEnter,
	'\t': KeyTab,
}

// ShiftChars lists the characters that are typed with shift held.
var ShiftChars = map[byte]bool{
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true,
	'H': true, 'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true,
	'O': true, 'P': true, 'Q': true, 'R': true, 'S': true, 'T': true, 'U': true,
	'V': true, 'W': true, 'X': true, 'Y': true, 'Z': true,

	'!': true, '@': true, '#': true, '$': true, '%': true,
	'^': true, '&': true, '*': true, '(': true, ')': true,

	'_': true, '+': true, '{': true, '}': true, '|': true,
	':': true, '"': true, '~': true, '<': true, '>': true, '?': true,
}
