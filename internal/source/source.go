package source

import (
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/ivlev/aniniscale/internal/raster"
)

var (
	// ErrDecode wraps every failure to read a source image.
	ErrDecode = errors.New("decode error")
	// ErrEncode wraps every failure to write a result image.
	ErrEncode = errors.New("encode error")
)

// InputExtensions lists every file extension Decode accepts.
var InputExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".pdf", RawExt,
}

// Source is a multi-page image container: a PDF or a single image file.
type Source interface {
	PageCount() int
	GetPageDimensions(index int) (width, height float64, err error)
	RenderPage(index int, dpi int) (image.Image, error)
	Close() error
}

// Options select what Decode reads from multi-page inputs.
type Options struct {
	Page int
	DPI  int
}

// Open picks a Source by file extension.
func Open(path string) (Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewFitzPDFSource(path)
	}
	return NewImageSource(path)
}

// Decode reads the image at path into a band buffer. Raw .pxz files keep
// their band layout; everything else is normalized by raster.FromImage.
func Decode(path string, opts Options) (*raster.Image, error) {
	if isRaw(path) {
		img, err := ReadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
		}
		return img, nil
	}

	src, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	defer src.Close()

	if opts.Page < 0 || opts.Page >= src.PageCount() {
		return nil, fmt.Errorf("%w: %s: page %d out of range (%d pages)", ErrDecode, path, opts.Page, src.PageCount())
	}
	decoded, err := src.RenderPage(opts.Page, opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	img, err := raster.FromImage(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return img, nil
}

// Dimensions returns the pixel size of a page without decoding pixel data
// where the format allows it.
func Dimensions(path string, opts Options) (int, int, error) {
	if isRaw(path) {
		h, err := readRawHeaderFile(path)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
		}
		return h.width, h.height, nil
	}
	src, err := Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	defer src.Close()
	w, h, err := src.GetPageDimensions(opts.Page)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	if _, isPDF := src.(*FitzPDFSource); isPDF {
		pw, ph := pagePixels(w, h, opts.DPI)
		return pw, ph, nil
	}
	return int(w), int(h), nil
}

// DefaultPDFDPI is the render resolution used when none is set.
const DefaultPDFDPI = 300

func renderDPI(dpi int) float64 {
	if dpi <= 0 {
		return DefaultPDFDPI
	}
	return float64(dpi)
}

// pagePixels converts page bounds in points (1/72 inch) to the pixel size
// MuPDF renders at dpi. Edges are rounded outwards like fz_round_rect.
func pagePixels(w, h float64, dpi int) (int, int) {
	scale := renderDPI(dpi) / 72
	return int(math.Ceil(w*scale - 0.001)), int(math.Ceil(h*scale - 0.001))
}

// FitzPDFSource renders PDF pages through MuPDF.
type FitzPDFSource struct {
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

func (f *FitzPDFSource) GetPageDimensions(index int) (float64, float64, error) {
	rect, err := f.doc.Bound(index)
	if err != nil {
		return 0, 0, err
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

func (f *FitzPDFSource) RenderPage(index int, dpi int) (image.Image, error) {
	return f.doc.ImageDPI(index, renderDPI(dpi))
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}
