// Package raster holds the flat pixel buffer shared by every stage of a run.
//
// Pixels are stored row-major and band-interleaved in a single slice. All
// coordinate access goes through bounds-checked accessors; hot loops use
// Offset once per pixel and read Pix directly.
package raster

import (
	"fmt"
	"image"
)

// MaxBands is the widest pixel a color key can hold (4 bytes in a uint32).
const MaxBands = 4

// Image is a width x height raster with a fixed number of bands per pixel.
type Image struct {
	Width  int
	Height int
	Bands  int
	Pix    []byte
}

// New allocates a zeroed image.
func New(width, height, bands int) (*Image, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("raster: invalid size %dx%d", width, height)
	}
	if bands < 1 || bands > MaxBands {
		return nil, fmt.Errorf("raster: unsupported band count %d", bands)
	}
	return &Image{
		Width:  width,
		Height: height,
		Bands:  bands,
		Pix:    make([]byte, width*height*bands),
	}, nil
}

// Wrap builds an image over an existing buffer without copying it.
func Wrap(width, height, bands int, pix []byte) (*Image, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("raster: invalid size %dx%d", width, height)
	}
	if bands < 1 || bands > MaxBands {
		return nil, fmt.Errorf("raster: unsupported band count %d", bands)
	}
	if len(pix) != width*height*bands {
		return nil, fmt.Errorf("raster: buffer holds %d bytes, %dx%dx%d needs %d",
			len(pix), width, height, bands, width*height*bands)
	}
	return &Image{Width: width, Height: height, Bands: bands, Pix: pix}, nil
}

func (m *Image) Stride() int {
	return m.Width * m.Bands
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Offset returns the index of band 0 of pixel (x, y) in Pix.
// It panics when the coordinate is outside the image.
func (m *Image) Offset(x, y int) int {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		panic(fmt.Sprintf("raster: pixel (%d,%d) outside %dx%d", x, y, m.Width, m.Height))
	}
	return (y*m.Width + x) * m.Bands
}

// Pixel returns the band bytes of pixel (x, y). The slice aliases Pix.
func (m *Image) Pixel(x, y int) []byte {
	o := m.Offset(x, y)
	return m.Pix[o : o+m.Bands : o+m.Bands]
}

func (m *Image) At(x, y, band int) byte {
	m.checkBand(band)
	return m.Pix[m.Offset(x, y)+band]
}

func (m *Image) Set(x, y, band int, v byte) {
	m.checkBand(band)
	m.Pix[m.Offset(x, y)+band] = v
}

func (m *Image) SetPixel(x, y int, px []byte) {
	if len(px) != m.Bands {
		panic(fmt.Sprintf("raster: pixel has %d bands, image has %d", len(px), m.Bands))
	}
	copy(m.Pix[m.Offset(x, y):], px)
}

// Row returns the bytes of row y. The slice aliases Pix.
func (m *Image) Row(y int) []byte {
	if y < 0 || y >= m.Height {
		panic(fmt.Sprintf("raster: row %d outside height %d", y, m.Height))
	}
	s := m.Stride()
	return m.Pix[y*s : (y+1)*s : (y+1)*s]
}

func (m *Image) checkBand(band int) {
	if band < 0 || band >= m.Bands {
		panic(fmt.Sprintf("raster: band %d outside %d bands", band, m.Bands))
	}
}

// Region copies the rectangle (x, y, w, h) into a new image.
// Exactly w*h pixels are copied; a rectangle reaching outside the
// source is an error.
func (m *Image) Region(x, y, w, h int) (*Image, error) {
	return m.RegionInto(nil, x, y, w, h)
}

// RegionInto is Region backed by buf when it has enough capacity.
// The returned image aliases buf.
func (m *Image) RegionInto(buf []byte, x, y, w, h int) (*Image, error) {
	r := image.Rect(x, y, x+w, y+h)
	if w < 0 || h < 0 || !r.In(m.Bounds()) {
		return nil, fmt.Errorf("raster: region %v outside %v", r, m.Bounds())
	}
	rowBytes := w * m.Bands
	if n := rowBytes * h; cap(buf) >= n {
		buf = buf[:n]
	} else {
		buf = make([]byte, n)
	}
	for row := 0; row < h; row++ {
		src := ((y+row)*m.Width + x) * m.Bands
		copy(buf[row*rowBytes:(row+1)*rowBytes], m.Pix[src:src+rowBytes])
	}
	return &Image{Width: w, Height: h, Bands: m.Bands, Pix: buf}, nil
}

func (m *Image) Clone() *Image {
	pix := make([]byte, len(m.Pix))
	copy(pix, m.Pix)
	return &Image{Width: m.Width, Height: m.Height, Bands: m.Bands, Pix: pix}
}

// Equal reports whether two images have the same shape and bytes.
func (m *Image) Equal(o *Image) bool {
	if m.Width != o.Width || m.Height != o.Height || m.Bands != o.Bands {
		return false
	}
	return string(m.Pix) == string(o.Pix)
}
