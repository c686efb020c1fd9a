package source

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/ivlev/aniniscale/internal/raster"
)

// RawExt is the extension of the raw band-buffer format: a 16 byte header
// (magic, width, height, bands as little-endian uint32) followed by the
// zstd-compressed pixel bytes. Unlike PNG it keeps any band count as is.
const RawExt = ".pxz"

var rawMagic = [4]byte{'P', 'X', 'Z', '1'}

// maxRawBytes caps the pixel buffer a header may announce.
const maxRawBytes = 1 << 32

var errRawHeader = errors.New("not a pxz file")

type rawHeader struct {
	width, height, bands int
}

func isRaw(path string) bool {
	return strings.EqualFold(filepath.Ext(path), RawExt)
}

func readRawHeader(r io.Reader) (rawHeader, error) {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return rawHeader{}, fmt.Errorf("%w: %w", errRawHeader, err)
	}
	if [4]byte(buf[:4]) != rawMagic {
		return rawHeader{}, errRawHeader
	}
	h := rawHeader{
		width:  int(binary.LittleEndian.Uint32(buf[4:])),
		height: int(binary.LittleEndian.Uint32(buf[8:])),
		bands:  int(binary.LittleEndian.Uint32(buf[12:])),
	}
	if h.bands < 1 || h.bands > raster.MaxBands {
		return rawHeader{}, fmt.Errorf("pxz: unsupported band count %d", h.bands)
	}
	if uint64(h.width)*uint64(h.height)*uint64(h.bands) > maxRawBytes {
		return rawHeader{}, fmt.Errorf("pxz: %dx%dx%d exceeds size limit", h.width, h.height, h.bands)
	}
	return h, nil
}

func readRawHeaderFile(path string) (rawHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return rawHeader{}, err
	}
	defer f.Close()
	return readRawHeader(f)
}

// DecodeRaw reads a pxz stream.
func DecodeRaw(r io.Reader) (*raster.Image, error) {
	br := bufio.NewReader(r)
	h, err := readRawHeader(br)
	if err != nil {
		return nil, err
	}
	need := h.width * h.height * h.bands

	zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	// the buffer grows with the data actually decompressed, not with
	// what the header claims
	pix, err := io.ReadAll(io.LimitReader(zr, int64(need)+1))
	if err != nil {
		return nil, fmt.Errorf("pxz: pixel data: %w", err)
	}
	switch {
	case len(pix) < need:
		return nil, fmt.Errorf("pxz: pixel data: got %d of %d bytes: %w", len(pix), need, io.ErrUnexpectedEOF)
	case len(pix) > need:
		return nil, errors.New("pxz: trailing pixel data")
	}
	return raster.Wrap(h.width, h.height, h.bands, pix)
}

// EncodeRaw writes img as a pxz stream.
func EncodeRaw(w io.Writer, img *raster.Image) error {
	var hdr [16]byte
	copy(hdr[:4], rawMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(img.Width))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(img.Height))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(img.Bands))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if _, err := zw.Write(img.Pix); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func ReadRaw(path string) (*raster.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeRaw(f)
}
