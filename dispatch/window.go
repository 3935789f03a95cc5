package dispatch

import "errors"

// WindowState is the Controller's on-screen window lifecycle, grounded on
// control_app.c's WINDOW_NOT_INITIATED / WINDOW_ACTIVE / WINDOW_CLOSED
// enum. The windowing toolkit itself is out of scope (spec.md §1); this
// state machine only governs when the Display interface's calls are
// legal.
type WindowState int

const (
	WindowNotInitiated WindowState = iota
	WindowActive
	WindowClosed
)

func (s WindowState) String() string {
	switch s {
	case WindowNotInitiated:
		return "not-initiated"
	case WindowActive:
		return "active"
	case WindowClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrWindowAlreadyInitiated reports a second 'w' keypress in one session.
var ErrWindowAlreadyInitiated = errors.New("dispatch: window already initiated")

// ErrWindowNotActive reports a close request against a window that was
// never opened or has already been closed.
var ErrWindowNotActive = errors.New("dispatch: window not active")
