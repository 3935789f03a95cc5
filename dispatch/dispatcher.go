package dispatch

import (
	"sync"

	"github.com/rs/zerolog"

	"code.hybscloud.com/juliadist/palette"
	"code.hybscloud.com/juliadist/queue"
	"code.hybscloud.com/juliadist/wire"
)

// Sender is the narrow transport capability the Dispatcher needs.
type Sender interface {
	Send(msg wire.Message) error
}

// Dispatcher is the Controller's chunk-dispatch engine. It owns the
// pending-chunk queue, the pacing state, the pixel bitmap, the window
// lifecycle, and the active region/parameters.
type Dispatcher struct {
	tx      Sender
	log     zerolog.Logger
	palette palette.Func

	mu          sync.Mutex
	geom        Geometry
	bitmap      []byte
	pending     *queue.Queue[wire.ComputePayload]
	outstanding int
	workerCount int
	window      WindowState
}

// New constructs a Dispatcher over geom's region. workerCount defaults to
// 1 — "[u]ntil Startup is observed, the Controller uses a default of 1 so
// the pipeline remains well-defined" (spec.md §4.2) — and is updated once
// the Module's Startup frame arrives.
func New(tx Sender, geom Geometry, pal palette.Func, log zerolog.Logger) *Dispatcher {
	w, h := geom.Width(), geom.Height()
	return &Dispatcher{
		tx:          tx,
		log:         log,
		palette:     pal,
		geom:        geom,
		bitmap:      make([]byte, w*h*3),
		pending:     queue.New[wire.ComputePayload](),
		workerCount: 1,
		window:      WindowNotInitiated,
	}
}

// Geometry returns the active region/resolution.
func (d *Dispatcher) Geometry() Geometry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.geom
}

// Bitmap returns a copy of the current RGB framebuffer, width and height
// in pixels. Safe to call concurrently with result ingestion.
func (d *Dispatcher) Bitmap() (pix []byte, width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(d.bitmap))
	copy(cp, d.bitmap)
	return cp, d.geom.Width(), d.geom.Height()
}

// OnStartup records the Module's declared worker count, used thereafter
// for the pacing invariant.
func (d *Dispatcher) OnStartup(p wire.StartupPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := int(p.WorkerCount)
	if n < 1 {
		n = 1
	}
	d.workerCount = n
	d.log.Info().Str("identifier", p.Identifier).Int("worker_count", n).Msg("module startup observed")
}

// SendGetVersion requests the Module's protocol version.
func (d *Dispatcher) SendGetVersion() error {
	return d.tx.Send(wire.Message{Type: wire.GetVersion})
}

// SendSetCompute installs the active region's (c, d, n) on the Module and
// clears any prior pending chunks, since any in-flight session is now
// stale (mirrors control_app.c's 's' handler, which queue_clears before
// sending SET_COMPUTE).
func (d *Dispatcher) SendSetCompute() error {
	d.mu.Lock()
	d.pending.Clear(nil)
	d.outstanding = 0
	g := d.geom
	d.mu.Unlock()

	step := g.PixelSize()
	return d.tx.Send(wire.Message{
		Type: wire.SetCompute,
		SetCompute: wire.SetComputePayload{
			CRe: real(g.C), CIm: imag(g.C),
			DRe: real(step), DIm: imag(step),
			N: g.N,
		},
	})
}

// RequestCompute slices the active region into its full chunk grid,
// replacing any pending work, then fills the pacing budget immediately —
// grounded on send_compute_message, generalised from "send one chunk, let
// Done pull the next" to "keep up to worker_count chunks outstanding".
func (d *Dispatcher) RequestCompute() error {
	d.mu.Lock()
	d.pending.Clear(nil)
	d.outstanding = 0
	g := d.geom
	for row := 0; row < int(g.ChunksInCol); row++ {
		for col := 0; col < int(g.ChunksInRow); col++ {
			origin := g.ChunkOrigin(row, col)
			d.pending.Push(wire.ComputePayload{
				ChunkID: g.ChunkID(row, col),
				Re:      real(origin), Im: imag(origin),
				NRe: g.ChunkWidth, NIm: g.ChunkHeight,
			})
		}
	}
	d.mu.Unlock()
	return d.fillPacing()
}

// fillPacing sends pending chunks until either the queue is empty or
// outstanding reaches workerCount, honouring spec.md §8's invariant that
// the Controller never has more than worker_count Compute frames
// unacknowledged by Done.
func (d *Dispatcher) fillPacing() error {
	for {
		d.mu.Lock()
		if d.outstanding >= d.workerCount {
			d.mu.Unlock()
			return nil
		}
		job, ok := d.pending.Pop()
		if !ok {
			d.mu.Unlock()
			return nil
		}
		d.outstanding++
		d.mu.Unlock()

		if err := d.tx.Send(wire.Message{Type: wire.Compute, Compute: job}); err != nil {
			return err
		}
	}
}

// OnDone accounts for one completed chunk and tops the pacing window back
// up from the pending queue. OnDone returns true once the session is fully
// drained (no outstanding work and nothing left pending).
func (d *Dispatcher) OnDone() (sessionComplete bool, err error) {
	d.mu.Lock()
	if d.outstanding > 0 {
		d.outstanding--
	}
	d.mu.Unlock()

	if err := d.fillPacing(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outstanding == 0 && d.pending.Len() == 0, nil
}

// OnBurst paints every iteration count in b into the bitmap, mapping
// Iters[i]'s local (row, col) — row-major, bottom-to-top within the chunk
// — to the bitmap's absolute pixel index via Geometry.PixelIndex.
func (d *Dispatcher) OnBurst(b wire.ComputeDataBurstPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()

	width := d.geom.Width()
	chunkWidth := int(d.geom.ChunkWidth)
	for i, iter := range b.Iters {
		localRow := i / chunkWidth
		localCol := i % chunkWidth
		row, col := d.geom.PixelIndex(b.ChunkID, localRow, localCol)
		idx := (row*width + col) * 3
		if idx < 0 || idx+2 >= len(d.bitmap) {
			continue
		}
		r, g, bl := d.palette(iter, d.geom.N)
		d.bitmap[idx] = r
		d.bitmap[idx+1] = g
		d.bitmap[idx+2] = bl
	}
}

// OnAbort drops every pending chunk and zeros the outstanding count. Any
// Bursts already in flight from workers that had started before the abort
// still arrive and are painted normally; this only stops new work from
// being requested.
func (d *Dispatcher) OnAbort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.Clear(nil)
	d.outstanding = 0
}

// SendAbort clears local pending state and asks the Module to abort,
// mirroring the 'a' keyboard handler.
func (d *Dispatcher) SendAbort() error {
	d.OnAbort()
	return d.tx.Send(wire.Message{Type: wire.Abort})
}

// SendQuit asks the Module to terminate.
func (d *Dispatcher) SendQuit() error {
	return d.tx.Send(wire.Message{Type: wire.Quit})
}

// Erase zeros the bitmap without touching pending work.
func (d *Dispatcher) Erase() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.bitmap {
		d.bitmap[i] = 0
	}
}

// OpenWindow transitions WindowNotInitiated -> WindowActive.
func (d *Dispatcher) OpenWindow() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window != WindowNotInitiated {
		return ErrWindowAlreadyInitiated
	}
	d.window = WindowActive
	return nil
}

// CloseWindow transitions WindowActive -> WindowClosed.
func (d *Dispatcher) CloseWindow() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window != WindowActive {
		return ErrWindowNotActive
	}
	d.window = WindowClosed
	return nil
}

// WindowState reports the current window lifecycle state.
func (d *Dispatcher) WindowState() WindowState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// Zoom scales the active region around its centre by factor (factor < 1
// zooms in, factor > 1 zooms out), matching the '+'/'-' keyboard commands.
// A fresh SetCompute must follow for the Module to pick up the new pixel
// step.
func (d *Dispatcher) Zoom(factor float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	center := (d.geom.LowerLeft + d.geom.UpperRight) / 2
	halfRe := (real(d.geom.UpperRight) - real(d.geom.LowerLeft)) / 2 * factor
	halfIm := (imag(d.geom.UpperRight) - imag(d.geom.LowerLeft)) / 2 * factor
	d.geom.LowerLeft = center - complex(halfRe, halfIm)
	d.geom.UpperRight = center + complex(halfRe, halfIm)
}

// ParamsEditor produces an edited Geometry from the one currently active.
// The CLI wires this to interactive stdin prompts (cmd/controller); tests
// inject a canned editor instead, exercising EditParams without a
// terminal.
type ParamsEditor func(current Geometry) (Geometry, error)

// EditParams runs editor over the active region/parameters and installs
// its result as the new active Geometry. As with Zoom/Pan, a fresh
// SendSetCompute must follow for the Module to pick up the change.
func (d *Dispatcher) EditParams(editor ParamsEditor) error {
	d.mu.Lock()
	current := d.geom
	d.mu.Unlock()

	next, err := editor(current)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.geom = next
	d.mu.Unlock()
	return nil
}

// PanFraction is the fraction of the region's extent one Pan call shifts
// by.
const PanFraction = 0.1

// Direction is an arrow-key pan direction.
type Direction int

const (
	DirectionUp Direction = iota
	DirectionDown
	DirectionLeft
	DirectionRight
)

// Pan shifts the active region by PanFraction of its extent in dir,
// matching the reference Controller's arrow-key direction codes ('A'
// up, 'B' down, 'C' right, 'D' left — standard ANSI cursor escape
// sequences).
func (d *Dispatcher) Pan(dir Direction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	extentRe := real(d.geom.UpperRight) - real(d.geom.LowerLeft)
	extentIm := imag(d.geom.UpperRight) - imag(d.geom.LowerLeft)
	var shift complex128
	switch dir {
	case DirectionUp:
		shift = complex(0, extentIm*PanFraction)
	case DirectionDown:
		shift = complex(0, -extentIm*PanFraction)
	case DirectionRight:
		shift = complex(extentRe*PanFraction, 0)
	case DirectionLeft:
		shift = complex(-extentRe*PanFraction, 0)
	}
	d.geom.LowerLeft += shift
	d.geom.UpperRight += shift
}
