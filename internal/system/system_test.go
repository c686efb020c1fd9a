package system

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUCount(t *testing.T) {
	assert.GreaterOrEqual(t, CPUCount(), 1)
}

func TestCheckHeadroom(t *testing.T) {
	assert.NoError(t, CheckHeadroom(1))
	if _, err := AvailableMemory(); err != nil {
		t.Skipf("memory stats unavailable: %v", err)
	}
	err := CheckHeadroom(^uint64(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available")
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for n, want := range tests {
		assert.Equal(t, want, FormatBytes(n), "%d", n)
	}
}

func TestFindLatest(t *testing.T) {
	dir := t.TempDir()
	touch := func(name string, age time.Duration) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		ts := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}
	touch("old.png", 3*time.Hour)
	touch("new.JPG", time.Hour)
	touch("newest.txt", time.Minute)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	got, err := FindLatest(dir, ".png", ".jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "new.JPG"), got)

	_, err = FindLatest(dir, ".webp")
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = FindLatest(filepath.Join(dir, "missing"), ".png")
	assert.Error(t, err)
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool()

	b := p.Get(16)
	require.NotNil(t, b)
	assert.Len(t, *b, 16)
	p.Put(b)
	p.Put(nil)

	// unknown sizes are ignored rather than mixed into another pool
	odd := make([]byte, 7)
	p.Put(&odd)
	assert.Len(t, *p.Get(16), 16)
	assert.Len(t, *p.Get(7), 7)
}

func TestBufferPoolConcurrent(t *testing.T) {
	p := NewBufferPool()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(size int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := p.Get(size)
				if len(*b) != size {
					t.Errorf("got %d bytes, want %d", len(*b), size)
				}
				p.Put(b)
			}
		}(i%4 + 1)
	}
	wg.Wait()
}
