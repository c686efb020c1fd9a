package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/aniniscale/internal/config"
	"github.com/ivlev/aniniscale/internal/logging"
	"github.com/ivlev/aniniscale/internal/partition"
	"github.com/ivlev/aniniscale/internal/pool"
	"github.com/ivlev/aniniscale/internal/raster"
	"github.com/ivlev/aniniscale/internal/reducer"
	"github.com/ivlev/aniniscale/internal/source"
)

func testConfig(t *testing.T, in, out string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.InputPath = in
	cfg.OutputPath = out
	cfg.StatsLog = filepath.Join(t.TempDir(), "benchmark.log")
	return &cfg
}

func discard() *slog.Logger {
	return logging.Logger(io.Discard, false, slog.LevelInfo)
}

func quadrants(t *testing.T) *raster.Image {
	t.Helper()
	img, err := raster.New(8, 8, 1)
	require.NoError(t, err)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v := byte(20)
			if x < 4 && y < 4 {
				v = 10
			}
			img.Set(x, y, 0, v)
		}
	}
	return img
}

func noisy(t *testing.T, w, h, bands int, seed uint64) *raster.Image {
	t.Helper()
	img, err := raster.New(w, h, bands)
	require.NoError(t, err)
	r := rand.New(rand.NewPCG(seed, seed))
	for i := range img.Pix {
		// few distinct values so blocks have real majorities and ties
		img.Pix[i] = byte(r.IntN(3) * 40)
	}
	return img
}

func writeInput(t *testing.T, img *raster.Image, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, source.Encode(img, path))
	return path
}

func TestRunQuadrants(t *testing.T) {
	in := writeInput(t, quadrants(t), "in.pxz")
	out := filepath.Join(t.TempDir(), "out.pxz")
	cfg := testConfig(t, in, out)
	cfg.BlockX, cfg.BlockY = 4, 4
	cfg.Workers = 2

	var logs bytes.Buffer
	p := NewProject(cfg, logging.Logger(&logs, false, slog.LevelInfo))
	require.NoError(t, p.Run(context.Background()))

	got, err := source.ReadRaw(out)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Width)
	assert.Equal(t, 2, got.Height)
	assert.Equal(t, []byte{10, 20, 20, 20}, got.Pix)

	st := p.Stats()
	assert.Equal(t, 4, st.Tasks)
	assert.Equal(t, 2, st.Workers)
	assert.False(t, st.PassThrough)

	assert.Contains(t, logs.String(), "Creating 4 tasks of size 4x4")
	assert.Contains(t, logs.String(), "Initializing 2 workers")
	assert.Contains(t, logs.String(), "time elapsed")
}

func TestDownscaleMatchesWholeImageReduction(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		bands int
		block partition.BlockSize
		side  int
		hints []int
	}{
		{"exact grid", 64, 48, 1, partition.BlockSize{X: 4, Y: 4}, 64, []int{1, 2, 4}},
		{"leftover pixels", 203, 157, 3, partition.BlockSize{X: 3, Y: 2}, 64, []int{1, 2, 7, 16}},
		{"small task side", 120, 90, 4, partition.BlockSize{X: 2, Y: 3}, 3, []int{1, 6}},
		{"two bands", 51, 77, 2, partition.BlockSize{X: 5, Y: 7}, 64, []int{1, 3, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := noisy(t, tt.w, tt.h, tt.bands, uint64(tt.w))
			want, err := reducer.Reduce(img, tt.block)
			require.NoError(t, err)

			for _, hint := range tt.hints {
				cfg := testConfig(t, "unused", "unused")
				cfg.BlockX, cfg.BlockY = tt.block.X, tt.block.Y
				cfg.TaskBlockSide = tt.side
				cfg.Workers = hint

				got, err := NewProject(cfg, discard()).Downscale(context.Background(), img)
				require.NoError(t, err, "hint %d", hint)
				assert.Equal(t, tt.w/tt.block.X, got.Width)
				assert.Equal(t, tt.h/tt.block.Y, got.Height)
				assert.Equal(t, want, got.Pix, "hint %d", hint)
			}
		})
	}
}

func TestDownscaleDefaultWorkers(t *testing.T) {
	img := noisy(t, 40, 40, 3, 7)
	cfg := testConfig(t, "unused", "unused")
	cfg.BlockX, cfg.BlockY = 2, 2

	p := NewProject(cfg, discard())
	got, err := p.Downscale(context.Background(), img)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Stats().Workers, 1)

	want, err := reducer.Reduce(img, cfg.Block())
	require.NoError(t, err)
	assert.Equal(t, want, got.Pix)
}

func TestRunPassThrough(t *testing.T) {
	src := noisy(t, 9, 5, 3, 3)
	in := writeInput(t, src, "in.png")
	out := filepath.Join(t.TempDir(), "out.png")
	cfg := testConfig(t, in, out)
	cfg.BlockX, cfg.BlockY = 1, 1

	p := NewProject(cfg, discard())
	require.NoError(t, p.Run(context.Background()))
	assert.True(t, p.Stats().PassThrough)

	got, err := source.Decode(out, source.Options{})
	require.NoError(t, err)
	assert.True(t, src.Equal(got))
}

func TestDownscalePassThroughCopies(t *testing.T) {
	src := noisy(t, 7, 5, 2, 5)
	cfg := testConfig(t, "unused", "unused")
	cfg.BlockX, cfg.BlockY = 1, 1

	p := NewProject(cfg, discard())
	p.reduce = func(dst []byte, region *raster.Image, bs partition.BlockSize) error {
		return errors.New("reducer must not run for 1x1 blocks")
	}
	got, err := p.Downscale(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, src.Equal(got))
	assert.True(t, p.Stats().PassThrough)
	assert.Zero(t, p.Stats().Tasks)

	got.Pix[0]++
	assert.False(t, src.Equal(got), "result must not share the source buffer")
}

func TestRunTaskFailureWritesNothing(t *testing.T) {
	in := writeInput(t, noisy(t, 200, 200, 1, 11), "in.pxz")
	out := filepath.Join(t.TempDir(), "out.pxz")
	cfg := testConfig(t, in, out)
	cfg.BlockX, cfg.BlockY = 2, 2
	cfg.TaskBlockSide = 4
	cfg.Workers = 4

	boom := errors.New("boom")
	var calls atomic.Int32
	p := NewProject(cfg, discard())
	p.reduce = func(dst []byte, region *raster.Image, bs partition.BlockSize) error {
		if calls.Add(1) == 5 {
			return boom
		}
		return reducer.ReduceInto(dst, region, bs)
	}

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrTaskFailed)
	assert.ErrorIs(t, err, boom)

	var te *pool.TaskError
	require.ErrorAs(t, err, &te)
	assert.IsType(t, partition.Task{}, te.Task)
	assert.NoFileExists(t, out)
}

func TestRunCancelledWritesNothing(t *testing.T) {
	in := writeInput(t, quadrants(t), "in.pxz")
	out := filepath.Join(t.TempDir(), "out.pxz")
	cfg := testConfig(t, in, out)
	cfg.BlockX, cfg.BlockY = 4, 4

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewProject(cfg, discard()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out)
}

func TestRunRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	t.Run("invalid block", func(t *testing.T) {
		cfg := testConfig(t, writeInput(t, quadrants(t), "in.pxz"), out)
		cfg.BlockX = 0
		err := NewProject(cfg, discard()).Run(context.Background())
		assert.ErrorIs(t, err, config.ErrInvalidConfiguration)
	})

	t.Run("image smaller than block", func(t *testing.T) {
		cfg := testConfig(t, writeInput(t, quadrants(t), "in.pxz"), out)
		cfg.BlockX, cfg.BlockY = 16, 2
		err := NewProject(cfg, discard()).Run(context.Background())
		assert.ErrorIs(t, err, config.ErrInvalidConfiguration)
	})

	t.Run("missing input", func(t *testing.T) {
		cfg := testConfig(t, filepath.Join(dir, "missing.png"), out)
		err := NewProject(cfg, discard()).Run(context.Background())
		assert.ErrorIs(t, err, source.ErrDecode)
	})

	t.Run("unsupported output", func(t *testing.T) {
		cfg := testConfig(t, writeInput(t, quadrants(t), "in.pxz"), filepath.Join(dir, "out.gif"))
		cfg.BlockX, cfg.BlockY = 4, 4
		err := NewProject(cfg, discard()).Run(context.Background())
		assert.ErrorIs(t, err, source.ErrEncode)
	})

	assert.NoFileExists(t, out)
}

func TestRunAppendsStats(t *testing.T) {
	in := writeInput(t, quadrants(t), "in.pxz")
	cfg := testConfig(t, in, filepath.Join(t.TempDir(), "out.png"))
	cfg.BlockX, cfg.BlockY = 4, 4
	cfg.ShowStats = true
	cfg.BuildVersion = "test-build"

	for i := 0; i < 2; i++ {
		require.NoError(t, NewProject(cfg, discard()).Run(context.Background()))
	}

	data, err := os.ReadFile(cfg.StatsLog)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "Build: test-build")
	assert.Contains(t, string(lines[0]), "Size: 8x8 -> 2x2")
	assert.Contains(t, string(lines[0]), "Block: 4x4")
}
