// Package progress logs elapsed time and ETA while a run drains its queue.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the minimum time between two progress reports.
const DefaultInterval = 5 * time.Second

// RunContext holds the per-run counters the reporter works from.
// It is created once per run; TotalTasks and TaskPixelArea are filled from
// the partition plan before any task runs.
type RunContext struct {
	ID            uuid.UUID
	Start         time.Time
	MinInterval   time.Duration
	TotalTasks    int
	TaskPixelArea int
}

// NewRunContext starts the clock for a run. An interval of zero reports
// on every call; negative values count as zero.
func NewRunContext(start time.Time, interval time.Duration) *RunContext {
	if interval < 0 {
		interval = 0
	}
	return &RunContext{
		ID:          uuid.New(),
		Start:       start,
		MinInterval: interval,
	}
}

// Estimate is one progress sample.
type Estimate struct {
	Elapsed      time.Duration
	TasksLeft    int
	PixelsLeft   int
	ETA          time.Duration
	ETAAvailable bool
}

// Estimate extrapolates the remaining time linearly from the pixels done so
// far. ETAAvailable is false when nothing has been measured yet.
func (rc *RunContext) Estimate(now time.Time, tasksLeft int) Estimate {
	e := Estimate{
		Elapsed:    now.Sub(rc.Start),
		TasksLeft:  tasksLeft,
		PixelsLeft: tasksLeft * rc.TaskPixelArea,
	}

	done := float64((rc.TotalTasks - tasksLeft) * rc.TaskPixelArea)
	elapsed := e.Elapsed.Seconds()
	if elapsed <= 0 || done <= 0 {
		return e
	}
	rate := done / elapsed
	e.ETA = time.Duration(float64(e.PixelsLeft) / rate * float64(time.Second))
	e.ETAAvailable = true
	return e
}

// Reporter rate-limits progress lines for one run.
type Reporter struct {
	rc   *RunContext
	log  *slog.Logger
	now  func() time.Time
	mu   sync.Mutex
	last time.Time
}

// NewReporter returns a reporter whose first report window opens at the
// run start.
func NewReporter(rc *RunContext, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		rc:   rc,
		log:  log,
		now:  time.Now,
		last: rc.Start,
	}
}

func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Report logs progress unless the previous report was less than
// MinInterval ago. It reports whether a line was written.
func (r *Reporter) Report(tasksLeft int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.last) < r.rc.MinInterval {
		return false
	}
	r.last = now

	e := r.rc.Estimate(now, tasksLeft)
	eta := "unavailable"
	if e.ETAAvailable {
		eta = e.ETA.Round(time.Second).String()
	}
	r.log.LogAttrs(context.Background(), slog.LevelInfo, "[*] progress",
		slog.String("run", r.rc.ID.String()),
		slog.Duration("elapsed", e.Elapsed.Round(time.Second)),
		slog.String("eta", eta),
		slog.Int("tasks_left", e.TasksLeft),
		slog.Int("pixels_left", e.PixelsLeft),
	)
	return true
}

// Elapsed logs the total time since the run started.
func (r *Reporter) Elapsed() time.Duration {
	elapsed := r.now().Sub(r.rc.Start)
	r.log.Info("[*] time elapsed",
		"run", r.rc.ID.String(),
		"elapsed", elapsed.Round(time.Millisecond))
	return elapsed
}
