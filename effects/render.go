package effects

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// StatusLine renders the display as one line of text.
func StatusLine(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "layer=%s", s.Display.Layer)
	if s.Display.Active != "" {
		fmt.Fprintf(&b, " active=%s", s.Display.Active)
	} else {
		b.WriteString(" active=none")
	}
	for _, l := range s.Display.Links {
		fmt.Fprintf(&b, " %s:%s", l.Name, l.State)
	}
	if s.Display.Passkey != "" {
		fmt.Fprintf(&b, " passkey=%s", s.Display.Passkey)
	}
	if s.Display.CapsLock {
		b.WriteString(" CAPS")
	}
	if !s.Display.Power {
		b.WriteString(" leds=off")
	}
	fmt.Fprintf(&b, " held=%d", s.Display.Held)
	if s.Display.LastKey != "" {
		fmt.Fprintf(&b, " last=%s", s.Display.LastKey)
	}
	return b.String()
}

// ConsoleRenderer shows the status display on a terminal. On a real terminal
// the line is redrawn in place and clipped to the terminal width; on any
// other writer one line is written per frame.
type ConsoleRenderer struct {
	w   io.Writer
	fd  int
	tty bool
}

// NewConsoleRenderer returns a renderer writing to w.
func NewConsoleRenderer(w io.Writer) *ConsoleRenderer {
	r := &ConsoleRenderer{w: w, fd: -1}
	if f, ok := w.(*os.File); ok {
		r.fd = int(f.Fd())
		r.tty = term.IsTerminal(r.fd)
	}
	return r
}

func (r *ConsoleRenderer) Render(s State) error {
	line := StatusLine(s)
	if !r.tty {
		_, err := fmt.Fprintln(r.w, line)
		return err
	}
	if width, _, err := term.GetSize(r.fd); err == nil && width > 1 && len(line) >= width {
		line = line[:width-1]
	}
	_, err := fmt.Fprintf(r.w, "\r\x1b[K%s", line)
	return err
}

// LogRenderer writes each frame as a debug record.
type LogRenderer struct {
	Log *slog.Logger
}

func (r LogRenderer) Render(s State) error {
	r.Log.Debug("effects frame", "frame", s.Frame, "status", StatusLine(s), "leds", len(s.LEDs))
	return nil
}
