package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Alia5/MicroKB/hid"
	klog "github.com/Alia5/MicroKB/internal/log"
	"github.com/Alia5/MicroKB/link"
)

type offer struct {
	frame hid.Frame
	gen   uint64
	at    time.Time
}

// PortStats counts what one transport was sent.
type PortStats struct {
	Sent    uint64
	Skipped uint64
	Failed  uint64
}

// port serializes transmits to one transport. Offers land in a one-slot
// mailbox where a newer frame replaces an unsent older one, so a slow
// transport only ever delays itself.
type port struct {
	name      string
	drv       link.Driver
	links     Links
	log       *slog.Logger
	reports   klog.ReportLogger
	timeout   time.Duration
	keepAlive time.Duration

	mailbox chan offer

	// owned by the port goroutine
	session uint64
	last    hid.Frame
	sentAt  time.Time
	hasSent bool

	// handled is the generation of the last offer taken from the mailbox,
	// whether it was sent, skipped or dropped.
	handled atomic.Uint64

	sent    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

func (p *port) offer(f hid.Frame, gen uint64, at time.Time) {
	o := offer{frame: f, gen: gen, at: at}
	select {
	case p.mailbox <- o:
		return
	default:
	}
	// replace the stale frame
	select {
	case <-p.mailbox:
	default:
	}
	select {
	case p.mailbox <- o:
	default:
	}
}

func (p *port) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-p.mailbox:
			p.handle(o)
		}
	}
}

func (p *port) handle(o offer) {
	defer p.handled.Store(o.gen)
	sctx, session, ok := p.links.SessionContext(p.name)
	if !ok {
		p.hasSent = false
		return
	}
	if session != p.session {
		// a new host must receive a full frame
		p.session = session
		p.hasSent = false
	}
	if p.hasSent && o.frame == p.last && (p.keepAlive <= 0 || o.at.Sub(p.sentAt) < p.keepAlive) {
		p.skipped.Add(1)
		return
	}

	tctx, cancel := context.WithTimeout(sctx, p.timeout)
	err := p.drv.Transmit(tctx, o.frame)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, link.ErrTimeout) {
			err = fmt.Errorf("%w: %w", link.ErrTimeout, err)
		}
		p.failed.Add(1)
		p.hasSent = false
		p.log.Debug("transmit failed", "transport", p.name, "session", session, "error", err)
		p.links.ReportFailure(p.name, session, err)
		return
	}
	p.sent.Add(1)
	p.last = o.frame
	p.sentAt = o.at
	p.hasSent = true
	p.links.ReportSuccess(p.name, session)
	if p.reports != nil {
		p.reports.Log(p.name, false, o.frame.Keyboard.BuildReport())
		if o.frame.Consumer.Usage != hid.ConsumerNone {
			p.reports.Log(p.name, false, o.frame.Consumer.BuildReport())
		}
	}
}

func (p *port) stats() PortStats {
	return PortStats{Sent: p.sent.Load(), Skipped: p.skipped.Load(), Failed: p.failed.Load()}
}
