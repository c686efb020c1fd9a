package source

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/ivlev/aniniscale/internal/raster"
)

// Encode writes img to path in the format named by its extension (.png,
// .bmp, .tif/.tiff or .pxz).
//
// The image goes to a temporary file next to path that is renamed into
// place only once fully written, so a failed encode leaves no output.
func Encode(img *raster.Image, path string) error {
	write, err := encoderFor(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".aniniscale-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %s: %w", ErrEncode, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, path, err)
	}
	return nil
}

type encodeFunc func(w io.Writer, img *raster.Image) error

func encoderFor(path string) (encodeFunc, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return viaStd(png.Encode), nil
	case ".bmp":
		return viaStd(bmp.Encode), nil
	case ".tif", ".tiff":
		return func(w io.Writer, img *raster.Image) error {
			std, err := img.ToImage()
			if err != nil {
				return err
			}
			return tiff.Encode(w, std, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		}, nil
	case RawExt:
		return EncodeRaw, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", ext)
	}
}

func viaStd(enc func(io.Writer, image.Image) error) encodeFunc {
	return func(w io.Writer, img *raster.Image) error {
		std, err := img.ToImage()
		if err != nil {
			return err
		}
		return enc(w, std)
	}
}
