package transport

import (
	"errors"
	"sync"
	"time"

	"code.hybscloud.com/juliadist/cancel"
	"code.hybscloud.com/juliadist/internal/ioerr"
	"code.hybscloud.com/juliadist/wire"
)

// Options configures a Transport's retry behavior.
type Options struct {
	// RetryBudget bounds how many WouldBlock retries Send tolerates before
	// giving up. Zero selects DefaultRetryBudget.
	RetryBudget int

	// RetryDelay is the sleep between retries. Zero selects DelayMS.
	RetryDelay time.Duration
}

// DefaultRetryBudget bounds a Send's wait for write-side backpressure to
// clear: DefaultRetryBudget * DelayMS is the worst-case time a full Send
// spends retrying before failing.
const DefaultRetryBudget = 500

// Option configures a Transport.
type Option func(*Options)

// WithRetryBudget overrides the number of WouldBlock retries Send tolerates.
func WithRetryBudget(n int) Option { return func(o *Options) { o.RetryBudget = n } }

// WithRetryDelay overrides the sleep between retries.
func WithRetryDelay(d time.Duration) Option { return func(o *Options) { o.RetryDelay = d } }

// Transport owns one read-FIFO and one write-FIFO, each guarded by its own
// mutex, matching spec.md §4.1 and §5: concurrent writers (e.g. several
// Module workers emitting Bursts) serialize through the write mutex, and a
// Receive in progress excludes a concurrent Receive on the same fd.
type Transport struct {
	readMu sync.Mutex
	read   *fd

	writeMu sync.Mutex
	write   *fd

	retryBudget int
	retryDelay  time.Duration
}

// Open opens readPath immediately (non-blocking) and writePath by polling
// until a peer reader attaches or quit is raised.
func Open(readPath, writePath string, quit *cancel.Flag, opts ...Option) (*Transport, error) {
	o := Options{RetryBudget: DefaultRetryBudget, RetryDelay: DelayMS}
	for _, fn := range opts {
		fn(&o)
	}
	if o.RetryBudget == 0 {
		o.RetryBudget = DefaultRetryBudget
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = DelayMS
	}

	r, err := openRead(readPath)
	if err != nil {
		return nil, err
	}
	w, err := openWrite(writePath, quit)
	if err != nil {
		r.close()
		return nil, err
	}
	return &Transport{read: r, write: w, retryBudget: o.RetryBudget, retryDelay: o.RetryDelay}, nil
}

// Close tears down both fds.
func (t *Transport) Close() error {
	t.readMu.Lock()
	rerr := t.read.close()
	t.readMu.Unlock()

	t.writeMu.Lock()
	werr := t.write.close()
	t.writeMu.Unlock()

	if rerr != nil {
		return rerr
	}
	return werr
}

// Connected reports whether the write fd is still attached to a reader.
// Once a write hits a broken pipe, Connected is false until Close/Open
// re-establishes the transport; callers must not retry a disconnected fd.
func (t *Transport) Connected() bool {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.write.valid
}

// Send serialises msg and writes it under write-side mutual exclusion,
// looping through partial writes and bounded WouldBlock retries. It
// returns ErrDisconnected without attempting a write at all once the fd
// has been marked invalid by a prior broken-pipe failure.
func (t *Transport) Send(msg wire.Message) error {
	buf, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if !t.write.valid {
		return ErrDisconnected
	}
	return t.writeLocked(buf)
}

// SendBurstThenDone writes burst and done as one atomic unit under a single
// hold of the write mutex. A worker's Burst and its matching Done must
// never have another worker's frames interleaved between them: Done
// carries no chunk-id of its own (see wire.Message), so the only link
// between a Done and its chunk is that it immediately follows that chunk's
// Burst on the stream. Two separate Send calls would let another worker's Burst land between
// them under concurrent dispatch; holding the mutex across both closes
// that window.
func (t *Transport) SendBurstThenDone(burst, done wire.Message) error {
	bbuf, err := wire.Encode(burst)
	if err != nil {
		return err
	}
	dbuf, err := wire.Encode(done)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if !t.write.valid {
		return ErrDisconnected
	}
	if err := t.writeLocked(bbuf); err != nil {
		return err
	}
	return t.writeLocked(dbuf)
}

// writeLocked writes buf in full, retrying WouldBlock up to the configured
// budget. Callers must hold writeMu.
func (t *Transport) writeLocked(buf []byte) error {
	off := 0
	retries := 0
	for off < len(buf) {
		n, werr := t.write.writeOnce(buf[off:])
		off += n
		if werr == nil {
			continue
		}
		if errors.Is(werr, ioerr.WouldBlock) {
			retries++
			if retries > t.retryBudget {
				return ErrRetryBudgetExceeded
			}
			time.Sleep(t.retryDelay)
			continue
		}
		return werr
	}
	return nil
}

// Receive waits up to timeout for one frame. ok is false (with err nil) if
// no frame arrived within timeout — the Receive contract's "no message"
// case, not an error. A mid-frame timeout discards the partial frame and
// returns an error; the next Receive call starts fresh (the known
// re-synchronization weakness noted in spec.md §9).
func (t *Transport) Receive(timeout time.Duration) (msg wire.Message, ok bool, err error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if !t.read.valid {
		return wire.Message{}, false, nil
	}

	ready, perr := t.read.pollReadable(timeout)
	if perr != nil {
		return wire.Message{}, false, perr
	}
	if !ready {
		return wire.Message{}, false, nil
	}

	deadline := time.Now().Add(timeout)

	typeByte := make([]byte, 1)
	if err := t.readFull(typeByte, deadline); err != nil {
		return wire.Message{}, false, err
	}

	typ := wire.Type(typeByte[0])

	var burstLen uint16
	header := typeByte
	if typ == wire.ComputeDataBurst {
		lenBytes := make([]byte, 2)
		if err := t.readFull(lenBytes, deadline); err != nil {
			return wire.Message{}, false, err
		}
		header = append(header, lenBytes...)
		burstLen, err = wire.PeekBurstLen(header)
		if err != nil {
			return wire.Message{}, false, err
		}
	}

	frameLen, err := wire.FrameLen(typ, burstLen)
	if err != nil {
		// Unknown type tag: discard this one byte and let the transport
		// continue; one potentially-lost frame, per spec.md §4.1.
		return wire.Message{}, false, nil
	}

	frame := make([]byte, frameLen)
	copy(frame, header)
	if err := t.readFull(frame[len(header):], deadline); err != nil {
		return wire.Message{}, false, err
	}

	decoded, derr := wire.Decode(frame)
	if derr != nil {
		return wire.Message{}, false, derr
	}
	return decoded, true, nil
}

// readFull reads exactly len(p) bytes. A short read (ioerr.More) retries
// immediately, since the kernel just handed back less than asked for, not
// "nothing yet"; WouldBlock sleeps DelayMS and retries until deadline
// passes.
func (t *Transport) readFull(p []byte, deadline time.Time) error {
	off := 0
	for off < len(p) {
		n, err := t.read.readOnce(p[off:])
		off += n
		if err == nil || errors.Is(err, ioerr.More) {
			continue
		}
		if errors.Is(err, ioerr.WouldBlock) {
			if time.Now().After(deadline) {
				return errors.New("transport: timeout mid-frame")
			}
			time.Sleep(DelayMS)
			continue
		}
		return err
	}
	return nil
}
