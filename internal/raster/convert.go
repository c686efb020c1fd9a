package raster

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// FromImage normalizes a decoded image into a band buffer.
//
// Gray and Gray16 become 1 band (16-bit samples keep the high byte),
// fully opaque color images become 3 bands (RGB) and anything carrying
// alpha becomes 4 bands of non-premultiplied RGBA.
func FromImage(src image.Image) (*Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	switch s := src.(type) {
	case *image.Gray:
		out, err := New(w, h, 1)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			o := s.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Row(y), s.Pix[o:o+w])
		}
		return out, nil
	case *image.Gray16:
		out, err := New(w, h, 1)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			dst := out.Row(y)
			o := s.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				dst[x] = s.Pix[o+x*2]
			}
		}
		return out, nil
	}

	// NRGBA sources are read as-is; converting them through draw would
	// premultiply and lose precision on translucent pixels.
	nrgba, ok := src.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), src, b.Min, draw.Src)
	}
	nb := nrgba.Bounds()
	row := func(y int) []byte {
		o := nrgba.PixOffset(nb.Min.X, nb.Min.Y+y)
		return nrgba.Pix[o : o+w*4]
	}

	if nrgba.Opaque() {
		out, err := New(w, h, 3)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			dst, srcRow := out.Row(y), row(y)
			for x := 0; x < w; x++ {
				copy(dst[x*3:x*3+3], srcRow[x*4:x*4+3])
			}
		}
		return out, nil
	}

	out, err := New(w, h, 4)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		copy(out.Row(y), row(y))
	}
	return out, nil
}

// ToImage converts the buffer back into a standard library image.
// One band maps to *image.Gray, everything else to *image.NRGBA
// (2 bands are gray+alpha, 3 bands get an opaque alpha channel).
func (m *Image) ToImage() (image.Image, error) {
	r := image.Rect(0, 0, m.Width, m.Height)
	switch m.Bands {
	case 1:
		g := image.NewGray(r)
		for y := 0; y < m.Height; y++ {
			copy(g.Pix[y*g.Stride:y*g.Stride+m.Width], m.Row(y))
		}
		return g, nil
	case 2, 3, 4:
		n := image.NewNRGBA(r)
		for y := 0; y < m.Height; y++ {
			src := m.Row(y)
			for x := 0; x < m.Width; x++ {
				px := src[x*m.Bands : (x+1)*m.Bands]
				n.SetNRGBA(x, y, toNRGBA(px))
			}
		}
		return n, nil
	default:
		return nil, fmt.Errorf("raster: unsupported band count %d", m.Bands)
	}
}

func toNRGBA(px []byte) color.NRGBA {
	switch len(px) {
	case 2:
		return color.NRGBA{R: px[0], G: px[0], B: px[0], A: px[1]}
	case 3:
		return color.NRGBA{R: px[0], G: px[1], B: px[2], A: 0xff}
	default:
		return color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]}
	}
}
