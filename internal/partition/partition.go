// Package partition splits a source image into block-aligned rectangular
// tasks sized from the available concurrency.
package partition

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned for block sizes or task bounds that
// cannot produce a tiling.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// DefaultMaxTaskSide is the largest task side, in blocks, when none is set.
const DefaultMaxTaskSide = 64

// BlockSize is the number of source pixels collapsed into one output pixel
// along each axis.
type BlockSize struct {
	X, Y int
}

// Area is the number of source pixels in one block.
func (b BlockSize) Area() int {
	return b.X * b.Y
}

func (b BlockSize) String() string {
	return fmt.Sprintf("%dx%d", b.X, b.Y)
}

// Task is one block-aligned rectangle of the source image.
type Task struct {
	Index int

	// Source rectangle, in pixels. Width and Height are multiples of the
	// block size.
	OriginX, OriginY int
	Width, Height    int

	// Position in the task grid.
	GridX, GridY int

	// Destination offset in the output image, in output pixels.
	OutX, OutY int
}

func (t Task) String() string {
	return fmt.Sprintf("task %d [%d,%d %dx%d]", t.Index, t.OriginX, t.OriginY, t.Width, t.Height)
}

func (t Task) Tiles(bs BlockSize) (int, int) {
	return t.Width / bs.X, t.Height / bs.Y
}

// Plan is the full partition of one run.
type Plan struct {
	Block BlockSize

	// Output image size (source size divided by the block size).
	TilesX, TilesY int

	// Number of workers the pool should start.
	Workers int

	// Blocks per regular task along each axis.
	BlocksPerTaskX, BlocksPerTaskY int

	// Source pixels per regular task along each axis.
	TaskPixelsX, TaskPixelsY int

	// Regular grid size. Edge tasks, when present, sit at index GridX/GridY.
	GridX, GridY int

	Tasks []Task
}

// TotalTasks is the number of tasks the plan emits, edge tasks included.
func (p *Plan) TotalTasks() int {
	return len(p.Tasks)
}

// TaskPixelArea is the source pixel area of one regular task.
func (p *Plan) TaskPixelArea() int {
	return p.TaskPixelsX * p.TaskPixelsY
}

// Options tune the partition.
type Options struct {
	// MaxTaskSide caps the blocks per task along either axis.
	MaxTaskSide int
	// Concurrency is the worker count hint, usually the host CPU count.
	Concurrency int
}

// Workers resolves the pool size for a tilesX x tilesY output.
//
// The count is kept even, then reduced two at a time until it fits both
// axes. A count that drops to zero becomes one.
func Workers(hint, tilesX, tilesY int) int {
	workers := hint
	if workers < 0 {
		workers = 0
	}
	if workers%2 != 0 {
		workers++
	}
	for workers > 0 && (workers > tilesX || workers > tilesY) {
		workers -= 2
	}
	if workers <= 0 {
		workers = 1
	}
	return workers
}

// blocksPerTask halves the per-worker share until it fits maxSide.
func blocksPerTask(tiles, workers, maxSide int) int {
	n := tiles / workers
	for n > maxSide {
		n /= 2
	}
	return n
}

// New computes the task grid for a width x height source.
func New(width, height int, bs BlockSize, opts Options) (*Plan, error) {
	if bs.X < 1 || bs.Y < 1 {
		return nil, fmt.Errorf("%w: block size %s must be positive", ErrInvalidConfiguration, bs)
	}
	maxSide := opts.MaxTaskSide
	if maxSide == 0 {
		maxSide = DefaultMaxTaskSide
	}
	if maxSide < 1 {
		return nil, fmt.Errorf("%w: task side %d must be positive", ErrInvalidConfiguration, maxSide)
	}

	tilesX := width / bs.X
	tilesY := height / bs.Y
	if tilesX == 0 || tilesY == 0 {
		return nil, fmt.Errorf("%w: image %dx%d is smaller than block %s",
			ErrInvalidConfiguration, width, height, bs)
	}

	p := &Plan{
		Block:   bs,
		TilesX:  tilesX,
		TilesY:  tilesY,
		Workers: Workers(opts.Concurrency, tilesX, tilesY),
	}

	p.BlocksPerTaskX = blocksPerTask(tilesX, p.Workers, maxSide)
	p.BlocksPerTaskY = blocksPerTask(tilesY, p.Workers, maxSide)
	p.TaskPixelsX = p.BlocksPerTaskX * bs.X
	p.TaskPixelsY = p.BlocksPerTaskY * bs.Y
	p.GridX = width / p.TaskPixelsX
	p.GridY = height / p.TaskPixelsY

	// Blocks left over on the right and bottom once the regular grid is
	// laid out. They get narrower edge tasks so every output pixel has
	// exactly one writer.
	edgeX := tilesX - p.GridX*p.BlocksPerTaskX
	edgeY := tilesY - p.GridY*p.BlocksPerTaskY

	cols := p.columns(edgeX)
	rows := p.rows(edgeY)

	p.Tasks = make([]Task, 0, len(cols)*len(rows))
	for _, c := range cols {
		for _, r := range rows {
			p.Tasks = append(p.Tasks, Task{
				Index:   len(p.Tasks),
				OriginX: c.origin,
				OriginY: r.origin,
				Width:   c.size,
				Height:  r.size,
				GridX:   c.grid,
				GridY:   r.grid,
				OutX:    c.grid * p.BlocksPerTaskX,
				OutY:    r.grid * p.BlocksPerTaskY,
			})
		}
	}
	return p, nil
}

type span struct {
	grid   int
	origin int
	size   int
}

func (p *Plan) columns(edgeBlocks int) []span {
	return spans(p.GridX, p.TaskPixelsX, edgeBlocks*p.Block.X)
}

func (p *Plan) rows(edgeBlocks int) []span {
	return spans(p.GridY, p.TaskPixelsY, edgeBlocks*p.Block.Y)
}

func spans(count, size, edge int) []span {
	out := make([]span, 0, count+1)
	for i := 0; i < count; i++ {
		out = append(out, span{grid: i, origin: i * size, size: size})
	}
	if edge > 0 {
		out = append(out, span{grid: count, origin: count * size, size: edge})
	}
	return out
}
