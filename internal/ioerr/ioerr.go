// Package ioerr re-exports the non-blocking control-flow sentinels the rest
// of this module is built against, so callers never need to import
// code.hybscloud.com/iox directly.
package ioerr

import "code.hybscloud.com/iox"

var (
	// WouldBlock means "no further progress without waiting". It is an
	// expected, non-failure control-flow signal returned by any fd-backed
	// reader/writer in this module when the FIFO has no data (read side) or
	// no room (write side) right now.
	WouldBlock = iox.ErrWouldBlock

	// More means "this completion is usable and more completions will
	// follow". Returned by the FIFO read path on a short read to
	// distinguish "keep draining the same logical operation" from a hard
	// error; the write path does not use it.
	More = iox.ErrMore
)
