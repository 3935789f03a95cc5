// Package export implements the Controller's PNG export hook. The PNG
// encoder itself is out of scope (spec.md §1); this package is the narrow
// interface the core consumes plus the standard library's image/png as the
// default implementation — deliberately stdlib-only, since no example repo in the corpus wires a third-party PNG
// encoder (see DESIGN.md).
package export

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// Exporter writes an RGB pixel buffer out as an image.
type Exporter interface {
	Export(w io.Writer, pix []byte, width, height int) error
}

// PNG is the default Exporter, backed by image/png.
type PNG struct{}

// Export encodes pix (tightly packed RGB triples, row-major top-to-bottom)
// as a PNG.
func (PNG) Export(w io.Writer, pix []byte, width, height int) error {
	if len(pix) != width*height*3 {
		return fmt.Errorf("export: pixel buffer length %d does not match %dx%d RGB", len(pix), width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := (y*width + x) * 3
			img.Set(x, y, color.RGBA{R: pix[idx], G: pix[idx+1], B: pix[idx+2], A: 0xFF})
		}
	}
	return png.Encode(w, img)
}
