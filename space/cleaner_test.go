/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package space

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/7Ji/nvr/fs"
)

func testLogger() logrus.FieldLogger {
	lg := logrus.New()
	lg.SetLevel(logrus.ErrorLevel)
	return lg
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(filepath.Base(path)), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// fakeCap hands out a free-block count that grows by step after every call,
// standing in for a volume whose space recovers as files leave it.
type fakeCap struct {
	free atomic.Int64
	step int64
}

func (f *fakeCap) fn(string) (fs.Cap, error) {
	free := f.free.Add(f.step) - f.step
	return fs.Cap{Total: 1000, Free: uint64(free), BlockSize: 4096}, nil
}

func TestCleanerDrainsToThreshold(t *testing.T) {
	hotDir, coldDir := t.TempDir(), t.TempDir()
	writeAged(t, filepath.Join(hotDir, "front_20240101_000000.mkv"), 3*time.Hour)
	writeAged(t, filepath.Join(hotDir, "sub", "front_20240102_000000.mkv"), 2*time.Hour)
	writeAged(t, filepath.Join(hotDir, "front_20240103_000000.mkv"), time.Hour)

	cold := NewTier(coldDir, 50, 100, false)
	hot := NewTier(hotDir, 100, 900, false)
	hot.Next = cold

	// free: 100, 500, 900 -> three evictions, then the threshold holds
	fc := &fakeCap{step: 400}
	fc.free.Store(100)
	cln := &Cleaner{Log: testLogger(), Mover: &fs.Mover{Log: testLogger()}, Cap: fc.fn}
	require.NoError(t, cln.Run(hot, nil))

	// oldest-first, subpaths mirrored under the next tier
	for _, rel := range []string{
		"front_20240101_000000.mkv",
		filepath.Join("sub", "front_20240102_000000.mkv"),
		"front_20240103_000000.mkv",
	} {
		_, err := os.Stat(filepath.Join(hotDir, rel))
		assert.True(t, os.IsNotExist(err), rel)
		_, err = os.Stat(filepath.Join(coldDir, rel))
		assert.NoError(t, err, rel)
	}
}

func TestCleanerStopsAtThreshold(t *testing.T) {
	hotDir, coldDir := t.TempDir(), t.TempDir()
	writeAged(t, filepath.Join(hotDir, "a.mkv"), 2*time.Hour)
	writeAged(t, filepath.Join(hotDir, "b.mkv"), time.Hour)

	hot := NewTier(hotDir, 100, 900, false)
	hot.Next = NewTier(coldDir, 50, 100, false)

	// first re-observation is already above to-free
	fc := &fakeCap{step: 0}
	fc.free.Store(950)
	cln := &Cleaner{Log: testLogger(), Mover: &fs.Mover{Log: testLogger()}, Cap: fc.fn}
	require.NoError(t, cln.Run(hot, nil))

	_, err := os.Stat(filepath.Join(hotDir, "a.mkv"))
	assert.True(t, os.IsNotExist(err), "oldest is evicted before the first re-observation")
	_, err = os.Stat(filepath.Join(hotDir, "b.mkv"))
	assert.NoError(t, err, "newer file survives")
}

func TestCleanerOneshot(t *testing.T) {
	hotDir, coldDir := t.TempDir(), t.TempDir()
	writeAged(t, filepath.Join(hotDir, "a.mkv"), 2*time.Hour)
	writeAged(t, filepath.Join(hotDir, "b.mkv"), time.Hour)

	hot := NewTier(hotDir, 100, 900, false)
	hot.Next = NewTier(coldDir, 50, 100, false)

	fc := &fakeCap{}
	fc.free.Store(10) // would keep draining if not one-shot
	cln := &Cleaner{Log: testLogger(), Mover: &fs.Mover{Log: testLogger()}, Cap: fc.fn, Oneshot: true}
	require.NoError(t, cln.Run(hot, nil))

	_, err := os.Stat(filepath.Join(hotDir, "a.mkv"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(hotDir, "b.mkv"))
	assert.NoError(t, err, "one-shot evicts exactly one file")
}

func TestCleanerLastTierDeletes(t *testing.T) {
	coldDir := t.TempDir()
	writeAged(t, filepath.Join(coldDir, "a.mkv"), 2*time.Hour)
	writeAged(t, filepath.Join(coldDir, "sub", "b.mkv"), time.Hour)

	cold := NewTier(coldDir, 100, 900, false)
	fc := &fakeCap{}
	fc.free.Store(10) // never recovers: the tier drains empty
	// one-shot must not apply to the last tier
	cln := &Cleaner{Log: testLogger(), Mover: &fs.Mover{Log: testLogger()}, Cap: fc.fn, Oneshot: true}
	require.NoError(t, cln.Run(cold, nil))

	res, err := fs.FindOldest(coldDir, testLogger())
	require.NoError(t, err)
	assert.Empty(t, res.Rel)
	assert.Zero(t, res.Entries)
}

func TestCleanerWaitsForDownstream(t *testing.T) {
	hotDir, coldDir := t.TempDir(), t.TempDir()
	writeAged(t, filepath.Join(hotDir, "a.mkv"), time.Hour)

	cold := NewTier(coldDir, 50, 100, false)
	hot := NewTier(hotDir, 100, 900, false)
	hot.Next = cold

	require.True(t, cold.SetCleaning())
	fc := &fakeCap{}
	fc.free.Store(950)
	cln := &Cleaner{Log: testLogger(), Mover: &fs.Mover{Log: testLogger()}, Cap: fc.fn}

	done := make(chan error, 1)
	go func() { done <- cln.Run(hot, nil) }()

	time.Sleep(300 * time.Millisecond)
	_, err := os.Stat(filepath.Join(hotDir, "a.mkv"))
	assert.NoError(t, err, "nothing moves while the downstream tier is cleaning")

	cold.SetIdle()
	require.NoError(t, <-done)
	_, err = os.Stat(filepath.Join(coldDir, "a.mkv"))
	assert.NoError(t, err)
}

func TestCleanerStop(t *testing.T) {
	hotDir := t.TempDir()
	hot := NewTier(hotDir, 100, 900, false)
	hot.Next = NewTier(t.TempDir(), 50, 100, false)
	hot.Next.SetCleaning() // park the pass in the downstream gate

	stop := make(chan struct{})
	fc := &fakeCap{}
	cln := &Cleaner{Log: testLogger(), Mover: &fs.Mover{Log: testLogger()}, Cap: fc.fn}
	done := make(chan error, 1)
	go func() { done <- cln.Run(hot, stop) }()
	close(stop)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("cleaner ignored stop")
	}
}
