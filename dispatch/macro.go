package dispatch

import (
	"fmt"

	"github.com/Alia5/MicroKB/hid"
)

// Macro is a compiled key sequence. Each step is the set of usages held
// until every target transport has taken it, at least one dispatch tick; an
// empty step releases everything.
type Macro [][]hid.Usage

// CompileText turns text into a macro that types it: every character is one
// step with the key down followed by one step with it released.
func CompileText(text string) (Macro, error) {
	m := make(Macro, 0, 2*len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		code, ok := hid.CharToKey[c]
		if !ok {
			return nil, fmt.Errorf("macro: no key for character %q at offset %d", c, i)
		}
		step := []hid.Usage{{Page: hid.PageKeyboard, Code: uint16(code)}}
		if hid.ShiftChars[c] {
			step = append([]hid.Usage{{Page: hid.PageKeyboard, Code: hid.KeyLeftShift}}, step...)
		}
		m = append(m, step, nil)
	}
	return m, nil
}

// player holds the queued macros. The dispatcher reads the current step and
// moves on with next once every target has taken it.
type player struct {
	queue []Macro
	step  int
}

func (p *player) enqueue(m Macro) {
	if len(m) > 0 {
		p.queue = append(p.queue, m)
	}
}

func (p *player) busy() bool { return len(p.queue) > 0 }

// current returns the usages of the step being played.
func (p *player) current() []hid.Usage {
	if len(p.queue) == 0 {
		return nil
	}
	return p.queue[0][p.step]
}

// next moves to the following step.
func (p *player) next() {
	if len(p.queue) == 0 {
		return
	}
	p.step++
	if p.step >= len(p.queue[0]) {
		p.queue = p.queue[1:]
		p.step = 0
	}
}
