package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ReportLogger records raw HID reports exchanged with a host.
type ReportLogger interface {
	// Log records one report. in=true means host->keyboard (LED output
	// reports), in=false means keyboard->host.
	Log(transport string, in bool, data []byte)
}

// reportLogger implements ReportLogger with thread-safe writes.
type reportLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewReport creates a ReportLogger writing one line per report. If w is nil,
// it returns a no-op logger.
func NewReport(w io.Writer) ReportLogger {
	return &reportLogger{w: w}
}

// Log emits a single-line report log with timestamp and hex dump.
func (r *reportLogger) Log(transport string, in bool, data []byte) {
	if len(data) == 0 || r.w == nil {
		return
	}

	line := fmt.Sprintf("%s %s %s report: %d bytes, hex: %s\n",
		time.Now().Format("2006/01/02 15:04:05.000"),
		transport,
		direction(in),
		len(data),
		Hex(data))

	r.mu.Lock()
	_, _ = r.w.Write([]byte(line))
	r.mu.Unlock()
}

type slogReports struct{ l *slog.Logger }

// SlogReports returns a ReportLogger that logs at LevelTrace.
func SlogReports(l *slog.Logger) ReportLogger {
	return slogReports{l: l}
}

func (s slogReports) Log(transport string, in bool, data []byte) {
	if len(data) == 0 || !s.l.Enabled(context.Background(), LevelTrace) {
		return
	}
	s.l.Log(context.Background(), LevelTrace, "report",
		"transport", transport, "dir", direction(in), "len", len(data), "hex", Hex(data))
}

func direction(in bool) string {
	if in {
		return "H->K"
	}
	return "K->H"
}

// Hex renders data as space separated lowercase hex bytes.
func Hex(data []byte) string {
	var hexbuf bytes.Buffer
	const hexdigits = "0123456789abcdef"
	for i, b := range data {
		if i > 0 {
			hexbuf.WriteByte(' ')
		}
		hexbuf.WriteByte(hexdigits[b>>4])
		hexbuf.WriteByte(hexdigits[b&0x0f])
	}
	return hexbuf.String()
}
