package module

import (
	"github.com/rs/zerolog"

	"code.hybscloud.com/juliadist/cancel"
	"code.hybscloud.com/juliadist/transport"
	"code.hybscloud.com/juliadist/wire"
)

// Version is this port's protocol version, reported in response to
// GetVersion. The triple matches spec.md §8 scenario 1's worked example
// exactly (frame bytes 04 01 02 03 F5).
var Version = wire.VersionPayload{Major: 1, Minor: 2, Patch: 3}

// Reader owns the Module's message-handler thread: the only goroutine that
// installs a new parameter generation on the Scheduler, per spec.md §5
// ("Module global parameters ... are written only by the pipe-reader
// thread"). It raises the global quit flag on a Quit message; the keyboard
// goroutine and the SIGINT/SIGTERM handler in cmd/module raise it too.
type Reader struct {
	tx    *transport.Transport
	sched *Scheduler
	quit  *cancel.Flag
	log   zerolog.Logger
}

// NewReader constructs a Reader bound to tx and sched, sharing quit with
// the rest of the process.
func NewReader(tx *transport.Transport, sched *Scheduler, quit *cancel.Flag, log zerolog.Logger) *Reader {
	return &Reader{tx: tx, sched: sched, quit: quit, log: log}
}

// Run polls Receive in a loop, dispatching each frame, until quit is
// raised.
func (r *Reader) Run() {
	for !r.quit.IsSet() {
		msg, ok, err := r.tx.Receive(transport.DelayMS)
		if err != nil {
			r.log.Warn().Err(err).Msg("receive failed")
			continue
		}
		if !ok {
			continue
		}
		r.dispatch(msg)
	}
}

func (r *Reader) dispatch(msg wire.Message) {
	switch msg.Type {
	case wire.GetVersion:
		r.log.Info().Msg("controller requested version")
		r.reply(wire.Message{Type: wire.Version, Version: Version})

	case wire.SetCompute:
		r.log.Info().Msg("controller set computation parameters")
		c := complex(msg.SetCompute.CRe, msg.SetCompute.CIm)
		d := complex(msg.SetCompute.DRe, msg.SetCompute.DIm)
		r.sched.SetParams(c, d, msg.SetCompute.N)
		r.reply(wire.Message{Type: wire.OK})

	case wire.Compute:
		r.log.Info().Uint8("chunk_id", msg.Compute.ChunkID).Msg("controller requested computation")
		if !r.sched.Submit(msg.Compute) {
			r.reply(wire.Message{Type: wire.Error})
		}

	case wire.Abort:
		r.log.Info().Msg("controller requested abortion")
		r.sched.Abort()
		r.reply(wire.Message{Type: wire.Abort})

	case wire.Quit:
		r.log.Info().Msg("controller requested quit")
		r.quit.Set()

	default:
		r.log.Warn().Stringer("type", msg.Type).Msg("controller sent message of unexpected type")
	}
}

func (r *Reader) reply(msg wire.Message) {
	if err := r.tx.Send(msg); err != nil {
		r.log.Warn().Err(err).Stringer("type", msg.Type).Msg("reply send failed")
	}
}
