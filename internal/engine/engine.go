package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ivlev/aniniscale/internal/assemble"
	"github.com/ivlev/aniniscale/internal/config"
	"github.com/ivlev/aniniscale/internal/logging"
	"github.com/ivlev/aniniscale/internal/partition"
	"github.com/ivlev/aniniscale/internal/pool"
	"github.com/ivlev/aniniscale/internal/progress"
	"github.com/ivlev/aniniscale/internal/raster"
	"github.com/ivlev/aniniscale/internal/reducer"
	"github.com/ivlev/aniniscale/internal/source"
	"github.com/ivlev/aniniscale/internal/system"
)

// Project runs one downscale from Config.InputPath to Config.OutputPath.
type Project struct {
	Config *config.Config
	Log    *slog.Logger

	now    func() time.Time
	reduce func(out []byte, region *raster.Image, bs partition.BlockSize) error
	stats  Stats
}

// Stats are the counters and timings of the last run.
type Stats struct {
	InputWidth, InputHeight   int
	OutputWidth, OutputHeight int
	Bands                     int
	Tasks                     int
	Workers                   int
	PassThrough               bool

	Decode time.Duration
	Reduce time.Duration
	Encode time.Duration
	Total  time.Duration
}

func NewProject(cfg *config.Config, log *slog.Logger) *Project {
	if log == nil {
		log = slog.Default()
	}
	return &Project{
		Config: cfg,
		Log:    log,
		now:    time.Now,
		reduce: reducer.ReduceInto,
	}
}

// Stats returns the counters of the last Run or Downscale.
func (p *Project) Stats() Stats {
	return p.stats
}

// Run decodes the input, reduces it and writes the output. Nothing is
// written when any step fails.
func (p *Project) Run(ctx context.Context) error {
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	startTime := p.now()
	p.stats = Stats{}
	rc := progress.NewRunContext(startTime, cfg.ReportInterval)
	ctx = logging.AppendCtx(ctx, slog.String("run", rc.ID.String()))

	p.Log.InfoContext(ctx, "--- [ANINISCALE] ---")
	p.Log.InfoContext(ctx, "[*] source",
		"input", cfg.InputPath,
		"output", cfg.OutputPath,
		"block", cfg.Block().String())

	opts := source.Options{Page: cfg.Page, DPI: cfg.DPI}
	p.checkMemory(ctx, opts)

	img, err := source.Decode(cfg.InputPath, opts)
	if err != nil {
		return err
	}
	decodeEnd := p.now()
	p.stats.Decode = decodeEnd.Sub(startTime)
	p.stats.InputWidth, p.stats.InputHeight = img.Width, img.Height
	p.stats.Bands = img.Bands

	reporter := progress.NewReporter(rc, p.Log).WithClock(p.now)

	out := img
	if cfg.PassThrough() {
		p.stats.PassThrough = true
		p.Log.InfoContext(ctx, "[*] block size is 1x1, writing source unchanged")
	} else {
		out, err = p.downscale(ctx, img, rc, reporter)
		if err != nil {
			return err
		}
	}
	reduceEnd := p.now()
	p.stats.Reduce = reduceEnd.Sub(decodeEnd)
	p.stats.OutputWidth, p.stats.OutputHeight = out.Width, out.Height

	if err := source.Encode(out, cfg.OutputPath); err != nil {
		return err
	}
	p.stats.Encode = p.now().Sub(reduceEnd)
	p.stats.Total = reporter.Elapsed()

	p.Log.InfoContext(ctx, "[+++] done",
		"output", cfg.OutputPath,
		"size", fmt.Sprintf("%dx%d", out.Width, out.Height))

	if cfg.ShowStats {
		p.report(ctx)
	}
	return nil
}

// Downscale reduces img with the project's block and task settings.
// A 1x1 block returns a copy of img.
func (p *Project) Downscale(ctx context.Context, img *raster.Image) (*raster.Image, error) {
	if p.Config.PassThrough() {
		p.stats.PassThrough = true
		return img.Clone(), nil
	}
	rc := progress.NewRunContext(p.now(), p.Config.ReportInterval)
	reporter := progress.NewReporter(rc, p.Log).WithClock(p.now)
	return p.downscale(ctx, img, rc, reporter)
}

func (p *Project) downscale(ctx context.Context, img *raster.Image, rc *progress.RunContext, reporter *progress.Reporter) (*raster.Image, error) {
	cfg := p.Config
	bs := cfg.Block()

	hint := cfg.Workers
	if hint == 0 {
		hint = system.CPUCount()
	}
	plan, err := partition.New(img.Width, img.Height, bs, partition.Options{
		MaxTaskSide: cfg.TaskBlockSide,
		Concurrency: hint,
	})
	if err != nil {
		return nil, err
	}
	rc.TotalTasks = plan.TotalTasks()
	rc.TaskPixelArea = plan.TaskPixelArea()
	p.stats.Tasks = plan.TotalTasks()
	p.stats.Workers = plan.Workers

	p.Log.InfoContext(ctx, fmt.Sprintf("[*] Creating %d tasks of size %dx%d",
		plan.TotalTasks(), plan.TaskPixelsX, plan.TaskPixelsY))

	asm, err := assemble.New(plan, img.Bands)
	if err != nil {
		return nil, err
	}

	results := make([][]byte, len(plan.Tasks))
	regions := system.NewBufferPool()
	q := pool.NewQueue(plan.Tasks...)

	p.Log.InfoContext(ctx, fmt.Sprintf("[*] Initializing %d workers", plan.Workers))

	err = pool.Run(ctx, q, plan.Workers, func(ctx context.Context, t partition.Task) error {
		buf := regions.Get(t.Width * t.Height * img.Bands)
		defer regions.Put(buf)

		region, err := img.RegionInto(*buf, t.OriginX, t.OriginY, t.Width, t.Height)
		if err != nil {
			return err
		}
		tw, th := t.Tiles(bs)
		res := make([]byte, tw*th*img.Bands)
		if err := p.reduce(res, region, bs); err != nil {
			return err
		}
		results[t.Index] = res
		return nil
	},
		pool.WithProgress(func(pending int) { reporter.Report(pending) }),
		pool.WithWorkerDone(func(worker, processed int) {
			p.Log.DebugContext(ctx, "[*] worker finished", "worker", worker, "tasks", processed)
		}),
	)
	if err != nil {
		p.Log.ErrorContext(ctx, "[!] run aborted", "error", err)
		return nil, err
	}

	if err := asm.PlaceAll(plan.Tasks, results); err != nil {
		return nil, err
	}
	return asm.Output(), nil
}

// checkMemory warns when the decoded input would not fit in available
// memory. It never fails the run.
func (p *Project) checkMemory(ctx context.Context, opts source.Options) {
	w, h, err := source.Dimensions(p.Config.InputPath, opts)
	if err != nil {
		return
	}
	// decoded image plus the band buffer, both at most 4 bytes per pixel
	need := uint64(w) * uint64(h) * raster.MaxBands * 2
	if err := system.CheckHeadroom(need); err != nil {
		p.Log.WarnContext(ctx, "[!] low memory", "detail", err.Error())
	}
}

func (p *Project) report(ctx context.Context) {
	st := p.stats
	mpix := 0.0
	if st.Reduce > 0 {
		mpix = float64(st.InputWidth*st.InputHeight) / 1e6 / st.Reduce.Seconds()
	}

	p.Log.InfoContext(ctx, "--- [PERFORMANCE REPORT] ---",
		"build", p.Config.BuildVersion,
		"total", st.Total.Round(time.Millisecond),
		"decode", st.Decode.Round(time.Millisecond),
		"reduce", st.Reduce.Round(time.Millisecond),
		"encode", st.Encode.Round(time.Millisecond),
		"mpix_per_sec", fmt.Sprintf("%.2f", mpix))

	logEntry := fmt.Sprintf("[%s] Build: %s | Input: %s | Size: %dx%d -> %dx%d | Block: %s | Tasks: %d | Workers: %d | Total: %.2fs | Decode: %.2fs | Reduce: %.2fs | Encode: %.2fs | MPix/s: %.2f\n",
		p.now().Format("2006-01-02 15:04:05"),
		p.Config.BuildVersion,
		filepath.Base(p.Config.InputPath),
		st.InputWidth, st.InputHeight,
		st.OutputWidth, st.OutputHeight,
		p.Config.Block(),
		st.Tasks,
		st.Workers,
		st.Total.Seconds(),
		st.Decode.Seconds(),
		st.Reduce.Seconds(),
		st.Encode.Seconds(),
		mpix,
	)

	f := logging.RotatingFile(p.Config.StatsLog)
	defer f.Close()
	if _, err := f.Write([]byte(logEntry)); err != nil {
		p.Log.WarnContext(ctx, "[!] could not write stats log", "path", p.Config.StatsLog, "error", err)
	}
}
