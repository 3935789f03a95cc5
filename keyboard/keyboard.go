// Package keyboard implements raw, one-key-at-a-time, non-blocking input
// for both the Controller and the Module, and the keyboard command tables
// spec.md §6 defines for each. The terminal raw-mode helper itself is out
// of scope (spec.md §1); this package uses golang.org/x/term for that
// concern the way the reference implementation's call_termios did, and
// golang.org/x/sys/unix for the non-blocking single-byte reads, matching
// the rest of this module's non-blocking-first I/O style (see
// code.hybscloud.com/juliadist/transport).
package keyboard

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Command is a decoded keyboard action, independent of which process
// issued it — callers ignore the commands that don't apply to their role.
type Command int

const (
	CmdNone Command = iota
	CmdQuit
	CmdHelp
	CmdGetVersion
	CmdSetCompute
	CmdRun
	CmdAbort
	CmdOpenWindow
	CmdRedraw
	CmdCloseWindow
	CmdErase
	CmdExportPNG
	CmdParametersMenu
	CmdZoomIn
	CmdZoomOut
	CmdPanUp
	CmdPanDown
	CmdPanLeft
	CmdPanRight
)

func (c Command) String() string {
	switch c {
	case CmdQuit:
		return "quit"
	case CmdHelp:
		return "help"
	case CmdGetVersion:
		return "get-version"
	case CmdSetCompute:
		return "set-compute"
	case CmdRun:
		return "run"
	case CmdAbort:
		return "abort"
	case CmdOpenWindow:
		return "open-window"
	case CmdRedraw:
		return "redraw"
	case CmdCloseWindow:
		return "close-window"
	case CmdErase:
		return "erase"
	case CmdExportPNG:
		return "export-png"
	case CmdParametersMenu:
		return "parameters-menu"
	case CmdZoomIn:
		return "zoom-in"
	case CmdZoomOut:
		return "zoom-out"
	case CmdPanUp:
		return "pan-up"
	case CmdPanDown:
		return "pan-down"
	case CmdPanLeft:
		return "pan-left"
	case CmdPanRight:
		return "pan-right"
	default:
		return "none"
	}
}

// ParseControllerKey maps one input byte to the Controller's command
// table.
func ParseControllerKey(b byte) Command {
	switch b {
	case 'q':
		return CmdQuit
	case 'h':
		return CmdHelp
	case 'g':
		return CmdGetVersion
	case 's':
		return CmdSetCompute
	case '1':
		return CmdRun
	case 'a':
		return CmdAbort
	case 'w':
		return CmdOpenWindow
	case 'r':
		return CmdRedraw
	case 'c':
		return CmdCloseWindow
	case 'e':
		return CmdErase
	case 'x':
		return CmdExportPNG
	case 'p':
		return CmdParametersMenu
	case '+':
		return CmdZoomIn
	case '-':
		return CmdZoomOut
	default:
		return CmdNone
	}
}

// ParseModuleKey maps one input byte to the Module's (much smaller)
// command table.
func ParseModuleKey(b byte) Command {
	switch b {
	case 'q':
		return CmdQuit
	case 'a':
		return CmdAbort
	case 'h':
		return CmdHelp
	default:
		return CmdNone
	}
}

// Arrow key escape bytes: ESC '[' <code>, using the same single-letter
// codes as the reference implementation's directions_enum (standard ANSI
// cursor-movement sequences).
const (
	arrowUp    = 'A'
	arrowDown  = 'B'
	arrowRight = 'C'
	arrowLeft  = 'D'
)

func parseArrow(code byte) Command {
	switch code {
	case arrowUp:
		return CmdPanUp
	case arrowDown:
		return CmdPanDown
	case arrowRight:
		return CmdPanRight
	case arrowLeft:
		return CmdPanLeft
	default:
		return CmdNone
	}
}

// Reader owns stdin in raw, non-blocking mode.
type Reader struct {
	fd       int
	oldState *term.State
}

// NewRawReader puts fd (typically int(os.Stdin.Fd())) into raw mode and
// non-blocking mode, returning a Reader that restores both on Close.
func NewRawReader(fd int) (*Reader, error) {
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = term.Restore(fd, old)
		return nil, err
	}
	return &Reader{fd: fd, oldState: old}, nil
}

// Close restores the terminal's original mode.
func (r *Reader) Close() error {
	nbErr := unix.SetNonblock(r.fd, false)
	if err := term.Restore(r.fd, r.oldState); err != nil {
		return err
	}
	return nbErr
}

// Suspend temporarily restores the terminal's original (cooked,
// line-buffered, echoed) mode, for interactive prompts — the parameters
// menu — that need normal stdin behavior instead of raw single-byte
// reads. Pair with Resume.
func (r *Reader) Suspend() error {
	if err := term.Restore(r.fd, r.oldState); err != nil {
		return err
	}
	return unix.SetNonblock(r.fd, false)
}

// Resume re-enters raw, non-blocking mode after Suspend.
func (r *Reader) Resume() error {
	old, err := term.MakeRaw(r.fd)
	if err != nil {
		return err
	}
	r.oldState = old
	return unix.SetNonblock(r.fd, true)
}

// ReadByte reads one raw byte, returning (0, false, nil) if none is
// available right now (the terminal equivalent of ioerr.WouldBlock).
func (r *Reader) ReadByte() (byte, bool, error) {
	var buf [1]byte
	n, err := unix.Read(r.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

// ReadCommand reads zero or more raw bytes and decodes the next complete
// command using parse, assembling ESC '[' <code> arrow sequences into the
// matching pan command. ok is false if nothing is available yet.
func (r *Reader) ReadCommand(parse func(byte) Command) (Command, bool, error) {
	b, ok, err := r.ReadByte()
	if err != nil || !ok {
		return CmdNone, ok, err
	}
	if b != 0x1b {
		return parse(b), true, nil
	}

	// Escape sequence: best-effort read of the next two bytes. A
	// disconnected terminal mid-sequence is treated as "no command yet"
	// rather than an error, matching the transport's tolerance of partial
	// reads under non-blocking I/O.
	bracket, ok, err := r.ReadByte()
	if err != nil {
		return CmdNone, false, err
	}
	if !ok || bracket != '[' {
		return CmdNone, false, nil
	}
	code, ok, err := r.ReadByte()
	if err != nil {
		return CmdNone, false, err
	}
	if !ok {
		return CmdNone, false, nil
	}
	return parseArrow(code), true, nil
}

// Stdin is a convenience constructor for the common case.
func Stdin() (*Reader, error) {
	return NewRawReader(int(os.Stdin.Fd()))
}
