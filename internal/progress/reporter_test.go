package progress

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReporter(total, area int) (*Reporter, *fakeClock, *bytes.Buffer) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := &fakeClock{t: start}
	rc := NewRunContext(start, 5*time.Second)
	rc.TotalTasks = total
	rc.TaskPixelArea = area

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	return NewReporter(rc, log).WithClock(clock.now), clock, &buf
}

func TestEstimateLinearExtrapolation(t *testing.T) {
	start := time.Unix(1000, 0)
	rc := NewRunContext(start, 0)
	rc.TotalTasks = 10
	rc.TaskPixelArea = 100

	// 4 tasks (400px) in 8s: 50px/s, 600px left -> 12s
	e := rc.Estimate(start.Add(8*time.Second), 6)
	require.True(t, e.ETAAvailable)
	assert.Equal(t, 12*time.Second, e.ETA)
	assert.Equal(t, 600, e.PixelsLeft)
	assert.Equal(t, 8*time.Second, e.Elapsed)
}

func TestEstimateUnavailableWithoutProgress(t *testing.T) {
	start := time.Unix(1000, 0)
	rc := NewRunContext(start, 0)
	rc.TotalTasks = 10
	rc.TaskPixelArea = 100

	assert.False(t, rc.Estimate(start, 5).ETAAvailable, "zero elapsed")
	assert.False(t, rc.Estimate(start.Add(time.Minute), 10).ETAAvailable, "nothing done")
}

func TestNewRunContextInterval(t *testing.T) {
	rc := NewRunContext(time.Now(), 0)
	assert.Equal(t, time.Duration(0), rc.MinInterval)
	assert.Equal(t, time.Duration(0), NewRunContext(time.Now(), -time.Second).MinInterval)
	assert.Equal(t, 3*time.Second, NewRunContext(time.Now(), 3*time.Second).MinInterval)
	assert.NotEqual(t, rc.ID, NewRunContext(time.Now(), 0).ID)
}

func TestReportZeroIntervalReportsEveryCall(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := &fakeClock{t: start}
	rc := NewRunContext(start, 0)
	rc.TotalTasks = 4
	rc.TaskPixelArea = 16

	var buf bytes.Buffer
	r := NewReporter(rc, slog.New(slog.NewTextHandler(&buf, nil))).WithClock(clock.now)

	assert.True(t, r.Report(4), "at run start")
	assert.True(t, r.Report(3), "same instant")
	clock.advance(time.Second)
	assert.True(t, r.Report(2))
	assert.True(t, r.Report(1))
	assert.Equal(t, 4, bytes.Count(buf.Bytes(), []byte("[*] progress")))
}

func TestReportIsRateLimited(t *testing.T) {
	r, clock, buf := newTestReporter(100, 64)

	// first window opens at run start
	assert.False(t, r.Report(100))
	clock.advance(4 * time.Second)
	assert.False(t, r.Report(99))

	clock.advance(time.Second)
	assert.True(t, r.Report(90))
	assert.Contains(t, buf.String(), "tasks_left=90")
	assert.Contains(t, buf.String(), "pixels_left=5760")

	clock.advance(time.Second)
	assert.False(t, r.Report(80))
	clock.advance(5 * time.Second)
	assert.True(t, r.Report(70))
}

func TestReportWithoutProgressSaysUnavailable(t *testing.T) {
	r, clock, buf := newTestReporter(10, 64)
	clock.advance(10 * time.Second)

	require.True(t, r.Report(10))
	assert.Contains(t, buf.String(), "eta=unavailable")
}

func TestElapsed(t *testing.T) {
	r, clock, buf := newTestReporter(1, 1)
	clock.advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, r.Elapsed())
	assert.Contains(t, buf.String(), "elapsed=1m30s")
}
