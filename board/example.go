package board

import "time"

// exampleKeys names the 4x12 grid of the example board.
var exampleKeys = [4][12]string{
	{"esc", "q", "w", "e", "r", "t", "y", "u", "i", "o", "p", "bspc"},
	{"tab", "a", "s", "d", "f", "g", "h", "j", "k", "l", "scln", "ent"},
	{"lsft", "z", "x", "c", "v", "b", "n", "m", "comm", "dot", "slsh", "rsft"},
	{"lctl", "lgui", "lalt", "menu", "fn", "spc", "pair", "leds", "left", "down", "up", "rght"},
}

var exampleBase = [4][12]string{
	{"Escape", "Q", "W", "E", "R", "T", "Y", "U", "I", "O", "P", "Backspace"},
	{"Tab", "A", "S", "D", "F", "G", "H", "J", "K", "L", "Semicolon", "Enter"},
	{"LeftShift", "Z", "X", "C", "V", "B", "N", "M", "Comma", "Period", "Slash", "RightShift"},
	{"LeftCtrl", "LeftGUI", "LeftAlt", "Application", "mo(1)", "Space", "fn(pair)", "fn(leds)", "Left", "Down", "Up", "Right"},
}

// Example returns a complete 48 key board with a function layer, used by
// "config init board" and by simulation runs without a board file.
func Example() *Board {
	keys := make(map[string][]int, 48)
	base := make(map[string]string, 48)
	for row := range exampleKeys {
		for col, name := range exampleKeys[row] {
			keys[name] = []int{row, col}
			base[name] = exampleBase[row][col]
		}
	}
	indicator := 48
	b := &Board{
		Name:   "example48",
		Matrix: Matrix{Rows: 4, Cols: 12},
		Chain: Chain{
			Registers: 6,
			SPI: SPI{
				Device:    "/dev/spidev0.0",
				SpeedHz:   4_000_000,
				LatchGPIO: 25,
			},
		},
		Timing: Timing{
			Scan:        Duration(time.Millisecond),
			Debounce:    Duration(5 * time.Millisecond),
			Dispatch:    Duration(time.Millisecond),
			Effects:     Duration(33 * time.Millisecond),
			BusCapacity: 256,
		},
		Keys: keys,
		Layers: []Layer{
			{Name: "base", Keys: base},
			{Name: "fn", Keys: map[string]string{
				"esc": "fn(clear-bonds)",
				"q":   "1", "w": "2", "e": "3", "r": "4", "t": "5",
				"y": "6", "u": "7", "i": "8", "o": "9", "p": "0",
				"h":    "macro(hello)",
				"up":   "cc(VolumeUp)",
				"down": "cc(VolumeDown)",
				"spc":  "cc(PlayPause)",
				"left": "fn(use-wired)",
				"rght": "fn(use-wireless)",
				"menu": "tg(2)",
			}},
			{Name: "nav", Keys: map[string]string{
				"h": "Left", "j": "Down", "k": "Up", "l": "Right",
				"u": "PageUp", "n": "PageDown",
			}},
		},
		Macros: map[string]string{
			"hello": "Hello, world!",
		},
		LEDs: LEDs{
			Count:         49,
			MaxBrightness: 0x60,
			Fade:          Duration(300 * time.Millisecond),
			Indicator:     &indicator,
			Base:          "#001020",
			Highlight:     "#ffffff",
			Map:           make(map[string]int, 48),
		},
		Transports: Transports{
			Priority: []string{DefaultWiredName, DefaultWirelessName},
			Wired: &Wired{
				Name:     DefaultWiredName,
				Keyboard: "/dev/hidg0",
				Consumer: "/dev/hidg1",
				Timeout:  Duration(20 * time.Millisecond),
			},
			Wireless: &Wireless{
				Name:    DefaultWirelessName,
				Listen:  ":3250",
				Bonds:   "bonds.yaml",
				Timeout: Duration(50 * time.Millisecond),
			},
		},
	}
	for row := range exampleKeys {
		for col, name := range exampleKeys[row] {
			b.LEDs.Map[name] = row*12 + col
		}
	}
	return b
}
