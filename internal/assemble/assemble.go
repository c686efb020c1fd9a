// Package assemble writes per-task results into the output image.
package assemble

import (
	"fmt"
	"image"

	"github.com/ivlev/aniniscale/internal/partition"
	"github.com/ivlev/aniniscale/internal/raster"
)

// Assembler copies task results into a pre-allocated output image.
// Task rectangles never overlap, so Place needs no locking as long as each
// task is placed once.
type Assembler struct {
	out   *raster.Image
	block partition.BlockSize
}

// New allocates the output for a plan.
func New(plan *partition.Plan, bands int) (*Assembler, error) {
	out, err := raster.New(plan.TilesX, plan.TilesY, bands)
	if err != nil {
		return nil, err
	}
	return &Assembler{out: out, block: plan.Block}, nil
}

func (a *Assembler) Output() *raster.Image {
	return a.out
}

// Rect returns the destination rectangle of a task, in output pixels.
func (a *Assembler) Rect(t partition.Task) image.Rectangle {
	w, h := t.Tiles(a.block)
	return image.Rect(t.OutX, t.OutY, t.OutX+w, t.OutY+h)
}

// Place copies result row by row into the task's destination rectangle.
func (a *Assembler) Place(t partition.Task, result []byte) error {
	r := a.Rect(t)
	if !r.In(a.out.Bounds()) {
		return fmt.Errorf("assemble: %v lands at %v outside output %v", t, r, a.out.Bounds())
	}
	rowBytes := r.Dx() * a.out.Bands
	if len(result) != rowBytes*r.Dy() {
		return fmt.Errorf("assemble: %v result holds %d bytes, need %d", t, len(result), rowBytes*r.Dy())
	}
	for row := 0; row < r.Dy(); row++ {
		dst := a.out.Offset(r.Min.X, r.Min.Y+row)
		copy(a.out.Pix[dst:dst+rowBytes], result[row*rowBytes:(row+1)*rowBytes])
	}
	return nil
}

// PlaceAll places every result; results[i] belongs to tasks[i].
func (a *Assembler) PlaceAll(tasks []partition.Task, results [][]byte) error {
	if len(tasks) != len(results) {
		return fmt.Errorf("assemble: %d tasks but %d results", len(tasks), len(results))
	}
	for i, t := range tasks {
		if err := a.Place(t, results[i]); err != nil {
			return err
		}
	}
	return nil
}
