// Package transport implements the full-duplex FIFO transport: opening,
// draining, and tearing down one read-FIFO and one write-FIFO, and the
// checksummed Send/Receive contract layered on top of the wire codec.
//
// Both file descriptors are kept in non-blocking mode for their entire
// lifetime (unlike an early revision of the reference implementation,
// which cleared O_NONBLOCK again right after open — spec.md §4.1 is
// explicit that "[b]oth fds are set non-blocking", so that is what this
// port does; see DESIGN.md).
package transport

import (
	"errors"
	"io"
	"time"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/juliadist/cancel"
	"code.hybscloud.com/juliadist/internal/ioerr"
)

// DelayMS is the canonical short-wait unit (spec.md §5's DELAY_MS): the
// timeout Receive polls with, and the sleep quantum used while waiting
// for a peer to attach or for write-side backpressure to clear.
const DelayMS = 10 * time.Millisecond

var (
	// ErrDisconnected reports that the peer reader has gone away; the fd
	// slot has been invalidated and further sends will fail fast without
	// touching the fd again.
	ErrDisconnected = errors.New("transport: peer disconnected")

	// ErrRetryBudgetExceeded reports that a send or receive could not make
	// progress within its bounded retry budget.
	ErrRetryBudgetExceeded = errors.New("transport: retry budget exceeded")
)

// fd is a single, non-blocking named-pipe file descriptor. After the
// open-time drain, reads and writes go through readOnce/writeOnce so EAGAIN surfaces as ioerr.WouldBlock instead
// of blocking the calling goroutine, matching the rest of this module's
// non-blocking-first control flow.
type fd struct {
	raw   int
	valid bool
}

func openNonblock(path string, flags int) (int, error) {
	return unix.Open(path, flags|unix.O_NOCTTY, 0)
}

// openRead opens path for reading immediately in non-blocking mode (per
// POSIX, O_NONBLOCK on a FIFO's read side makes open() return right away
// even with no writer attached yet), then drains any residual bytes left
// over from a previous session.
func openRead(path string) (*fd, error) {
	raw, err := openNonblock(path, unix.O_RDONLY|unix.O_NONBLOCK)
	if err != nil {
		return nil, err
	}
	f := &fd{raw: raw, valid: true}
	f.drain()
	return f, nil
}

func (f *fd) drain() {
	var scratch [4096]byte
	for {
		n, err := unix.Read(f.raw, scratch[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// openWrite opens path for writing, polling every DelayMS until a reader
// attaches (open returns ENXIO on a FIFO with O_NONBLOCK|O_WRONLY and no
// reader) or quit is raised, in which case it returns an error.
func openWrite(path string, quit *cancel.Flag) (*fd, error) {
	for {
		if quit != nil && quit.IsSet() {
			return nil, errors.New("transport: aborted waiting for reader")
		}
		raw, err := openNonblock(path, unix.O_WRONLY|unix.O_NONBLOCK)
		if err == nil {
			return &fd{raw: raw, valid: true}, nil
		}
		if errors.Is(err, unix.ENXIO) {
			time.Sleep(DelayMS)
			continue
		}
		return nil, err
	}
}

func (f *fd) close() error {
	if !f.valid {
		return nil
	}
	f.valid = false
	return unix.Close(f.raw)
}

// pollReadable waits up to timeout for the fd to become readable. It
// returns (true, nil) if data is ready, (false, nil) on timeout (the
// caller's "no message" case, not an error).
func (f *fd) pollReadable(timeout time.Duration) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(f.raw), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return pfd[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0, nil
}

// readOnce reads whatever is currently available into p, translating
// EAGAIN into ioerr.WouldBlock (no data yet — keep polling), a short read
// into ioerr.More (some data arrived; the caller should keep draining the
// same frame without sleeping first), and a zero-byte, no-error read into
// io.EOF: under non-blocking I/O, EAGAIN alone means "no data yet", so an
// actual n==0 with no error means the peer's write end has closed, not
// "try again".
func (f *fd) readOnce(p []byte) (int, error) {
	n, err := unix.Read(f.raw, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ioerr.WouldBlock
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	if n < len(p) {
		return n, ioerr.More
	}
	return n, nil
}

// writeOnce writes whatever fits into the pipe right now, translating
// EAGAIN into ioerr.WouldBlock and EPIPE into ErrDisconnected (and
// invalidating the fd so subsequent writers no-op instead of retrying a
// dead peer).
func (f *fd) writeOnce(p []byte) (int, error) {
	n, err := unix.Write(f.raw, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ioerr.WouldBlock
		}
		if errors.Is(err, unix.EPIPE) {
			f.valid = false
			return 0, ErrDisconnected
		}
		return n, err
	}
	return n, nil
}
