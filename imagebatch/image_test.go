package imagebatch

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToByteClampsAndTruncates(t *testing.T) {
	cases := []struct {
		in   float32
		want uint8
	}{
		{0, 0},
		{1, 255},
		{-0.5, 0},
		{1.7, 255},
		{0.5, 127}, // 127.5 truncates
		{0.999, 254},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, toByte(c.in), "input %v", c.in)
	}
}

func TestToNRGBAChannels(t *testing.T) {
	rgb := New(1, 2, 3)
	rgb.Set(0, 0, 0, 1)
	rgb.Set(0, 1, 2, 1)
	out, err := rgb.ToNRGBA()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, out.NRGBAAt(1, 0))

	gray := New(1, 1, 1)
	gray.Set(0, 0, 0, 0.2)
	out, err = gray.ToNRGBA()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 51, G: 51, B: 51, A: 255}, out.NRGBAAt(0, 0))

	rgba := New(1, 1, 4)
	rgba.Set(0, 0, 3, 0)
	out, err = rgba.ToNRGBA()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).A)
}

func TestToNRGBARejectsBadShapes(t *testing.T) {
	bad := New(2, 2, 2)
	_, err := bad.ToNRGBA()
	assert.Error(t, err)

	short := Image{Height: 2, Width: 2, Channels: 3, Pix: make([]float32, 3)}
	_, err = short.ToNRGBA()
	assert.Error(t, err)
}

func TestPNGRoundTrip(t *testing.T) {
	src := New(2, 3, 3)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			src.Set(y, x, 0, 1)
			src.Set(y, x, 1, 0)
			src.Set(y, x, 2, 1)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, src.EncodePNG(&buf))

	got, err := DecodePNG(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Height)
	assert.Equal(t, 3, got.Width)
	assert.Equal(t, 3, got.Channels)
	assert.Equal(t, src.Pix, got.Pix)
}

func TestFromImageKeepsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 0})

	got := FromImage(src)
	assert.Equal(t, 4, got.Channels)
	assert.Equal(t, float32(0), got.At(0, 0, 3))
}
