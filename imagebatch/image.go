package imagebatch

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
)

// Image is a single frame of a batch as ComfyUI hands it to a node: float pixel
// values in [0,1] laid out as (height, width, channel).
type Image struct {
	Height   int
	Width    int
	Channels int
	Pix      []float32
}

// Batch is an ordered collection of images produced by one graph execution
type Batch []Image

// New allocates a zeroed image
func New(height, width, channels int) Image {
	return Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float32, height*width*channels),
	}
}

func (i *Image) offset(y, x, ch int) int {
	return (y*i.Width+x)*i.Channels + ch
}

func (i *Image) At(y, x, ch int) float32 {
	return i.Pix[i.offset(y, x, ch)]
}

func (i *Image) Set(y, x, ch int, v float32) {
	i.Pix[i.offset(y, x, ch)] = v
}

// toByte scales a float sample by 255, clamps to [0,255] and truncates,
// matching numpy's clip(...).astype(uint8).
func toByte(v float32) uint8 {
	s := float64(v) * 255.0
	if s != s || s < 0 {
		return 0
	}
	if s > 255 {
		return 255
	}
	return uint8(s)
}

// ToNRGBA converts the float image into an 8 bit image ready for encoding.
// 1 channel images are treated as grayscale, 3 as RGB and 4 as RGBA.
func (i *Image) ToNRGBA() (*image.NRGBA, error) {
	if i.Channels != 1 && i.Channels != 3 && i.Channels != 4 {
		return nil, fmt.Errorf("unsupported channel count %d", i.Channels)
	}
	if len(i.Pix) != i.Height*i.Width*i.Channels {
		return nil, fmt.Errorf("pixel buffer has %d samples, expected %d", len(i.Pix), i.Height*i.Width*i.Channels)
	}

	retv := image.NewNRGBA(image.Rect(0, 0, i.Width, i.Height))
	for y := 0; y < i.Height; y++ {
		for x := 0; x < i.Width; x++ {
			var c color.NRGBA
			switch i.Channels {
			case 1:
				g := toByte(i.At(y, x, 0))
				c = color.NRGBA{R: g, G: g, B: g, A: 255}
			case 3:
				c = color.NRGBA{R: toByte(i.At(y, x, 0)), G: toByte(i.At(y, x, 1)), B: toByte(i.At(y, x, 2)), A: 255}
			case 4:
				c = color.NRGBA{R: toByte(i.At(y, x, 0)), G: toByte(i.At(y, x, 1)), B: toByte(i.At(y, x, 2)), A: toByte(i.At(y, x, 3))}
			}
			retv.SetNRGBA(x, y, c)
		}
	}
	return retv, nil
}

// EncodePNG writes the image as a PNG with no text chunks
func (i *Image) EncodePNG(w io.Writer) error {
	img, err := i.ToNRGBA()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// FromImage converts any decoded image into the float representation.
// Fully opaque images become 3 channel images, everything else keeps its alpha.
func FromImage(src image.Image) Image {
	nrgba := imaging.Clone(src)
	b := nrgba.Bounds()

	channels := 3
	if !nrgba.Opaque() {
		channels = 4
	}

	retv := New(b.Dy(), b.Dx(), channels)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := nrgba.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			retv.Set(y, x, 0, float32(c.R)/255.0)
			retv.Set(y, x, 1, float32(c.G)/255.0)
			retv.Set(y, x, 2, float32(c.B)/255.0)
			if channels == 4 {
				retv.Set(y, x, 3, float32(c.A)/255.0)
			}
		}
	}
	return retv
}

// DecodePNG reads a PNG stream into an Image
func DecodePNG(r io.Reader) (Image, error) {
	img, err := png.Decode(r)
	if err != nil {
		return Image{}, fmt.Errorf("failed to decode png: %w", err)
	}
	return FromImage(img), nil
}
