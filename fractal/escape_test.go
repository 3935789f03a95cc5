package fractal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamsValid(t *testing.T) {
	cases := []struct {
		name string
		p    Params
		want bool
	}{
		{"zero n", Params{C: -0.4 + 0.6i, D: 0.1 + 0.1i, N: 0}, false},
		{"zero d_re", Params{C: -0.4 + 0.6i, D: 0 + 0.1i, N: 10}, false},
		{"zero d_im", Params{C: -0.4 + 0.6i, D: 0.1 + 0i, N: 10}, false},
		{"zero c", Params{C: 0, D: 0.1 + 0.1i, N: 10}, false},
		{"valid", Params{C: -0.4 + 0.6i, D: 0.1 + 0.1i, N: 10}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.Valid())
		})
	}
}

func TestEscapeTimeCapsAtN(t *testing.T) {
	// z0 = c = 0 never escapes.
	got := EscapeTime(0, 0, 10)
	assert.EqualValues(t, 10, got)
}

func TestEscapeTimeEscapesImmediately(t *testing.T) {
	// |z0| already past the escape radius.
	got := EscapeTime(3, 0, 10)
	assert.EqualValues(t, 0, got)
}

func TestEscapeTimeDeterministicScenario3(t *testing.T) {
	// spec.md §8 scenario 3: c=-0.4+0.6i, n=10, pixel (0,0) of a chunk whose
	// lower-left origin is z0=-1.6-1.1i.
	c := complex(-0.4, 0.6)
	z0 := complex(-1.6, -1.1)
	got := EscapeTime(z0, c, 10)
	assert.LessOrEqual(t, got, uint8(10))

	// Re-running must be bit-for-bit deterministic.
	again := EscapeTime(z0, c, 10)
	assert.Equal(t, got, again)
}

func TestPixelOrigin(t *testing.T) {
	z0 := complex(-1.6, -1.1)
	d := complex(0.1, 0.1)
	got := PixelOrigin(z0, d, 2, 3)
	assert.InDelta(t, -1.3, real(got), 1e-9)
	assert.InDelta(t, -0.9, imag(got), 1e-9)
}
