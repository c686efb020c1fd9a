package system

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ErrNoInput is returned when a directory holds no usable input file.
var ErrNoInput = errors.New("no input file found")

// CPUCount returns the number of logical CPUs, falling back to the Go
// runtime's view when the host cannot be queried.
func CPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// AvailableMemory returns the bytes the OS reports as available for new
// allocations.
func AvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// CheckHeadroom compares an estimated working set with available memory.
// It returns a descriptive error when need exceeds what is available and
// nil when the host cannot be queried.
func CheckHeadroom(need uint64) error {
	avail, err := AvailableMemory()
	if err != nil {
		return nil
	}
	if need > avail {
		return fmt.Errorf("run needs about %s, only %s available", FormatBytes(need), FormatBytes(avail))
	}
	return nil
}

func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FindLatest returns the most recently modified file in dir whose
// extension is one of exts (compared case-insensitively).
func FindLatest(dir string, exts ...string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name()))
		if !slices.Contains(exts, ext) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if latestFile == "" || info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("%w in %s", ErrNoInput, dir)
	}
	return latestFile, nil
}
