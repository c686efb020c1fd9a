// Package reducer collapses every block of a region into its dominant color.
package reducer

import (
	"fmt"

	"github.com/ivlev/aniniscale/internal/partition"
	"github.com/ivlev/aniniscale/internal/raster"
)

// Reduce votes on every bs-sized block of region and returns one pixel per
// block, row-major, region.Bands bytes each.
//
// Trailing pixels that do not fill a whole block are ignored.
func Reduce(region *raster.Image, bs partition.BlockSize) ([]byte, error) {
	if bs.X < 1 || bs.Y < 1 {
		return nil, fmt.Errorf("%w: block size %s", partition.ErrInvalidConfiguration, bs)
	}
	tilesX := region.Width / bs.X
	tilesY := region.Height / bs.Y
	out := make([]byte, tilesX*tilesY*region.Bands)
	if err := ReduceInto(out, region, bs); err != nil {
		return nil, err
	}
	return out, nil
}

// ReduceInto is Reduce writing into a caller-owned buffer.
func ReduceInto(out []byte, region *raster.Image, bs partition.BlockSize) error {
	if bs.X < 1 || bs.Y < 1 {
		return fmt.Errorf("%w: block size %s", partition.ErrInvalidConfiguration, bs)
	}
	bands := region.Bands
	tilesX := region.Width / bs.X
	tilesY := region.Height / bs.Y
	if len(out) != tilesX*tilesY*bands {
		return fmt.Errorf("reducer: output holds %d bytes, need %d", len(out), tilesX*tilesY*bands)
	}

	// Early-exit threshold: half the block area.
	win := uint32(bs.Area() / 2)
	votes := make(map[uint32]uint32)
	pix := region.Pix

	for x := 0; x < tilesX; x++ {
		for y := 0; y < tilesY; y++ {
			clear(votes)
			dominant := -1
			var domCount uint32

			for areaX := 0; areaX < bs.X; areaX++ {
				for areaY := 0; areaY < bs.Y; areaY++ {
					o := region.Offset(areaX+x*bs.X, areaY+y*bs.Y)
					c := colorKey(pix[o : o+bands])

					n := votes[c] + 1
					votes[c] = n

					if domCount < n {
						domCount = n
						dominant = o

						// Only the row loop is cut short: later columns still
						// vote and may overturn the leader.
						if domCount >= win {
							break
						}
					}
				}
			}

			copy(out[(y*tilesX+x)*bands:], pix[dominant:dominant+bands])
		}
	}
	return nil
}

// colorKey packs the bands big-endian, band 0 in the most significant byte.
func colorKey(px []byte) uint32 {
	var c uint32
	for _, v := range px {
		c = c<<8 | uint32(v)
	}
	return c
}
