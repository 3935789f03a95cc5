package module

import (
	"time"

	"code.hybscloud.com/juliadist/fractal"
	"code.hybscloud.com/juliadist/transport"
	"code.hybscloud.com/juliadist/wire"
)

// runWorker is one pool slot's goroutine body: wait for a Job, compute its
// burst, emit ComputeDataBurst followed by Done, repeat. It polls w.abort
// once per pixel (spec.md §9: "every long loop polls the relevant flag
// each iteration") so a parameter change or user abort lands within one
// pixel of being raised rather than waiting for the whole chunk.
func (s *Scheduler) runWorker(w *worker) {
	for !s.quit.IsSet() {
		select {
		case job := <-w.ch:
			w.abort.Clear()
			s.processJob(w, job)
			w.busy.Store(false)
		case <-time.After(transport.DelayMS):
		}
	}
}

// processJob renders one chunk and streams it back as a Burst + Done pair,
// or discards silently if aborted mid-render (when the Controller sends
// Abort or SetCompute it has already cleared its own pending chunks and
// outstanding count, so it is not waiting for this chunk's reply).
func (s *Scheduler) processJob(w *worker, job Job) {
	n := int(job.NRe) * int(job.NIm)
	iters := make([]uint8, 0, n)

	origin := complex(job.OriginRe, job.OriginIm)
	p := job.Params

	for row := 0; row < int(job.NIm); row++ {
		for col := 0; col < int(job.NRe); col++ {
			if w.abort.IsSet() || s.quit.IsSet() {
				return
			}
			z0 := fractal.PixelOrigin(origin, p.D, row, col)
			iters = append(iters, fractal.EscapeTime(z0, p.C, p.N))
		}
	}

	burst := wire.Message{
		Type: wire.ComputeDataBurst,
		ComputeDataBurst: wire.ComputeDataBurstPayload{
			ChunkID: job.ChunkID,
			Iters:   iters,
		},
	}
	done := wire.Message{Type: wire.Done}
	if err := s.tx.SendBurstThenDone(burst, done); err != nil {
		s.log.Warn().Err(err).Uint8("chunk_id", job.ChunkID).Msg("burst/done send failed")
	}
}
