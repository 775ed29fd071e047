//go:build linux

package gadget

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

type hidg struct {
	fd   int
	path string
}

func openEndpoint(path string) (endpoint, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &hidg{fd: fd, path: path}, nil
}

func (h *hidg) Write(p []byte, deadline time.Time) error {
	for {
		n, err := unix.Write(h.fd, p)
		switch {
		case err == nil && n == len(p):
			return nil
		case err == nil:
			return io.ErrShortWrite
		case errors.Is(err, unix.EINTR):
			continue
		case !errors.Is(err, unix.EAGAIN):
			return h.classify("write", err)
		}
		if err := h.poll(unix.POLLOUT, time.Until(deadline)); err != nil {
			return err
		}
	}
}

func (h *hidg) ReadReport(timeout time.Duration) ([]byte, error) {
	if err := h.poll(unix.POLLIN, timeout); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	buf := make([]byte, 8)
	n, err := unix.Read(h.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, h.classify("read", err)
	}
	return buf[:n], nil
}

// poll waits for events on the node. It returns os.ErrDeadlineExceeded when
// timeout passes first.
func (h *hidg) poll(events int16, timeout time.Duration) error {
	ms := int(timeout.Milliseconds())
	if ms <= 0 {
		return os.ErrDeadlineExceeded
	}
	fds := []unix.PollFd{{Fd: int32(h.fd), Events: events}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return h.classify("poll", err)
	}
	if n == 0 {
		return os.ErrDeadlineExceeded
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && fds[0].Revents&events == 0 {
		return fmt.Errorf("%w: %s: poll revents %#x", errGone, h.path, fds[0].Revents)
	}
	return nil
}

func (h *hidg) classify(op string, err error) error {
	switch {
	case errors.Is(err, unix.ESHUTDOWN), errors.Is(err, unix.EPIPE),
		errors.Is(err, unix.ENODEV), errors.Is(err, unix.EIO), errors.Is(err, unix.EBADF):
		return fmt.Errorf("%w: %s %s: %w", errGone, op, h.path, err)
	default:
		return fmt.Errorf("%s %s: %w", op, h.path, err)
	}
}

func (h *hidg) Close() error {
	return unix.Close(h.fd)
}
