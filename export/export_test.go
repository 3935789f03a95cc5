package export

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNGExportRoundTrip(t *testing.T) {
	pix := make([]byte, 2*2*3)
	for i := range pix {
		pix[i] = byte(i)
	}

	var buf bytes.Buffer
	require.NoError(t, PNG{}.Export(&buf, pix, 2, 2))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
}

func TestPNGExportRejectsMismatchedBuffer(t *testing.T) {
	var buf bytes.Buffer
	err := PNG{}.Export(&buf, []byte{1, 2, 3}, 2, 2)
	assert.Error(t, err)
}
