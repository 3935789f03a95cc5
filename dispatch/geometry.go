// Package dispatch implements the Controller's chunk-dispatch engine:
// slicing a compute region into chunks, pacing their submission to the
// Module's worker count, ingesting streamed results into a pixel bitmap,
// and handling abort, reparameterization, zoom, and pan.
package dispatch

// Geometry describes one compute session's region and resolution, grounded
// on the reference Controller's fixed defaults (64x48 chunks, a 10x10
// grid, the canonical Julia region [-1.6-1.1i, 1.6+1.1i], c=-0.4+0.6i,
// n=100).
type Geometry struct {
	ChunkWidth  uint8
	ChunkHeight uint8
	ChunksInRow uint8
	ChunksInCol uint8

	LowerLeft  complex128
	UpperRight complex128

	C complex128
	N uint8
}

// DefaultGeometry matches the reference Controller's compile-time
// constants.
func DefaultGeometry() Geometry {
	return Geometry{
		ChunkWidth:  64,
		ChunkHeight: 48,
		ChunksInRow: 10,
		ChunksInCol: 10,
		LowerLeft:   complex(-1.6, -1.1),
		UpperRight:  complex(1.6, 1.1),
		C:           complex(-0.4, 0.6),
		N:           100,
	}
}

// Width is the total bitmap width in pixels.
func (g Geometry) Width() int { return int(g.ChunkWidth) * int(g.ChunksInRow) }

// Height is the total bitmap height in pixels.
func (g Geometry) Height() int { return int(g.ChunkHeight) * int(g.ChunksInCol) }

// PixelSize is the per-pixel step (d_re, d_im) derived from the region
// corners and resolution, mirroring control_app.c's pixel_size
// computation.
func (g Geometry) PixelSize() complex128 {
	w, h := g.Width(), g.Height()
	dRe := (real(g.UpperRight) - real(g.LowerLeft)) / float64(w)
	dIm := (imag(g.UpperRight) - imag(g.LowerLeft)) / float64(h)
	return complex(dRe, dIm)
}

// ChunkCount is the total number of chunks in the grid.
func (g Geometry) ChunkCount() int { return int(g.ChunksInRow) * int(g.ChunksInCol) }

// ChunkOrigin returns the lower-left complex origin of chunk (row, col),
// grounded on send_compute_message's first_chunk_corner + per-chunk offset
// arithmetic: row 0 is the top chunk row, but chunk origins are always
// their lower-left corner, so row increases downward on screen while the
// origin's imaginary part decreases.
func (g Geometry) ChunkOrigin(row, col int) complex128 {
	d := g.PixelSize()
	firstCorner := g.LowerLeft + complex(0, float64(int(g.ChunksInCol)-1)*float64(g.ChunkHeight)*imag(d))
	re := real(firstCorner) + float64(col)*float64(g.ChunkWidth)*real(d)
	im := imag(firstCorner) - float64(row)*float64(g.ChunkHeight)*imag(d)
	return complex(re, im)
}

// ChunkID returns the flat chunk-id for grid position (row, col).
func (g Geometry) ChunkID(row, col int) uint8 { return uint8(row*int(g.ChunksInRow) + col) }

// PixelIndex maps a chunk-id and a local (row, col) within that chunk —
// row 0 is the chunk's bottom row, matching ComputeDataBurst's row-major
// bottom-to-top serialisation — to the absolute (row, col) in the full
// bitmap, grounded on handle_message_compute_data's index arithmetic.
func (g Geometry) PixelIndex(chunkID uint8, localRow, localCol int) (row, col int) {
	chunkRow := int(chunkID) / int(g.ChunksInRow)
	chunkCol := int(chunkID) % int(g.ChunksInRow)
	row = chunkRow*int(g.ChunkHeight) + (int(g.ChunkHeight) - 1) - localRow
	col = chunkCol*int(g.ChunkWidth) + localCol
	return row, col
}
