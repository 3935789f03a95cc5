package dispatch

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/juliadist/palette"
	"code.hybscloud.com/juliadist/wire"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []wire.Message
}

func (r *recordingSender) Send(msg wire.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) computeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if m.Type == wire.Compute {
			n++
		}
	}
	return n
}

func smallGeometry() Geometry {
	return Geometry{
		ChunkWidth: 4, ChunkHeight: 4,
		ChunksInRow: 2, ChunksInCol: 2,
		LowerLeft: complex(-1, -1), UpperRight: complex(1, 1),
		C: complex(-0.4, 0.6), N: 10,
	}
}

func TestChunkIDGrid(t *testing.T) {
	g := smallGeometry()
	assert.EqualValues(t, 0, g.ChunkID(0, 0))
	assert.EqualValues(t, 1, g.ChunkID(0, 1))
	assert.EqualValues(t, 2, g.ChunkID(1, 0))
	assert.EqualValues(t, 3, g.ChunkID(1, 1))
}

func TestPixelIndexBottomRowOfBottomLeftChunk(t *testing.T) {
	g := smallGeometry()
	// chunk 2 (row=1,col=0) is the bottom-left chunk on screen; its local
	// row 0 (bottom of the chunk) must land on the bitmap's last row.
	row, col := g.PixelIndex(2, 0, 0)
	assert.Equal(t, g.Height()-1, row)
	assert.Equal(t, 0, col)
}

func TestRequestComputeRespectsPacingDefaultOne(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())

	require.NoError(t, d.RequestCompute())
	assert.Equal(t, 1, sender.computeCount())
}

func TestRequestComputeRespectsPacingAfterStartup(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())
	d.OnStartup(wire.StartupPayload{Identifier: "mod", WorkerCount: 3})

	require.NoError(t, d.RequestCompute())
	assert.Equal(t, 3, sender.computeCount())
}

func TestOnDoneToppsUpPacingWindow(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())
	require.NoError(t, d.RequestCompute())
	require.Equal(t, 1, sender.computeCount())

	complete, err := d.OnDone()
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, 2, sender.computeCount())
}

func TestSessionCompletesAfterAllChunksDone(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())
	d.OnStartup(wire.StartupPayload{WorkerCount: 4})
	require.NoError(t, d.RequestCompute())
	require.Equal(t, 4, sender.computeCount())

	var complete bool
	var err error
	for i := 0; i < 4; i++ {
		complete, err = d.OnDone()
		require.NoError(t, err)
	}
	assert.True(t, complete)
}

func TestOnBurstPaintsBitmap(t *testing.T) {
	sender := &recordingSender{}
	g := smallGeometry()
	d := New(sender, g, palette.Default, zerolog.Nop())

	iters := make([]uint8, int(g.ChunkWidth)*int(g.ChunkHeight))
	for i := range iters {
		iters[i] = 5
	}
	d.OnBurst(wire.ComputeDataBurstPayload{ChunkID: 0, Iters: iters})

	pix, _, _ := d.Bitmap()
	r, gg, b := palette.Default(5, g.N)
	// Every pixel in the burst carries the same iteration count, so any
	// pixel chunk 0 covers (absolute rows/cols 0..3) gets the same colour.
	assert.Equal(t, r, pix[0])
	assert.Equal(t, gg, pix[1])
	assert.Equal(t, b, pix[2])
}

func TestAbortClearsPendingAndOutstanding(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())
	require.NoError(t, d.RequestCompute())
	require.NoError(t, d.SendAbort())

	complete, err := d.OnDone()
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestWindowLifecycle(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())

	assert.Equal(t, WindowNotInitiated, d.WindowState())
	require.NoError(t, d.OpenWindow())
	assert.ErrorIs(t, d.OpenWindow(), ErrWindowAlreadyInitiated)
	require.NoError(t, d.CloseWindow())
	assert.ErrorIs(t, d.CloseWindow(), ErrWindowNotActive)
}

func TestZoomShrinksRegionAroundCenter(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())
	d.Zoom(0.5)
	g := d.Geometry()
	assert.InDelta(t, -0.5, real(g.LowerLeft), 1e-9)
	assert.InDelta(t, 0.5, real(g.UpperRight), 1e-9)
}

func TestPanShiftsRegion(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())
	before := d.Geometry()
	d.Pan(DirectionRight)
	after := d.Geometry()
	assert.Greater(t, real(after.LowerLeft), real(before.LowerLeft))
}

func TestEditParamsInstallsCannedEdit(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())

	canned := func(current Geometry) (Geometry, error) {
		current.C = complex(-0.8, 0.2)
		current.N = 42
		return current, nil
	}

	require.NoError(t, d.EditParams(canned))

	g := d.Geometry()
	assert.Equal(t, complex(-0.8, 0.2), g.C)
	assert.Equal(t, uint8(42), g.N)
}

func TestEditParamsPropagatesEditorError(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, smallGeometry(), palette.Default, zerolog.Nop())
	before := d.Geometry()

	wantErr := errors.New("canned failure")
	err := d.EditParams(func(current Geometry) (Geometry, error) {
		return current, wantErr
	})

	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, before, d.Geometry())
}
