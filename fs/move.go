// Package fs provides filesystem primitives for the NVR supervisor: capacity
// observation, the oldest-first scan, and tier-to-tier file moves.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package fs

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/7Ji/nvr/cmn/cos"
)

// sendfile(2) accepts at most ~2G per call anyway; keep chunks well below
const sendChunk = 1 << 30

// Mover moves one file from a tier to the next. The in-filesystem rename is
// the preferred primitive; across filesystems it degrades to a sendfile copy
// plus unlink. CrossFS, when set, serialises all cross-filesystem copies of
// the process (--limit-move-across-fs).
type Mover struct {
	Log     logrus.FieldLogger
	CrossFS *sync.Mutex
}

// Move renames src to dst, creating dst's parents. A vanished source is
// tolerated: the race with external deletion is logged and reported as
// success. srcMu and dstMu are the half-duplex io-mutexes of the two tiers
// (either may be nil); when both are needed they are taken in source, then
// destination order around each copy call.
func (m *Mover) Move(src, dst string, srcMu, dstMu *sync.Mutex) error {
	if err := cos.CreateParent(dst); err != nil {
		return errors.Wrapf(err, "create parent folders for %q", dst)
	}
	err := os.Rename(src, dst)
	switch {
	case err == nil:
		return nil
	case cos.IsErrNotExist(err):
		m.Log.Warnf("old file %q does not exist now, did you remove it by yourself? Or is the disk broken? Ignoring", src)
		return nil
	case cos.IsErrXDev(err):
		return m.moveBetweenFS(src, dst, srcMu, dstMu)
	default:
		return errors.Wrapf(err, "rename %q to %q", src, dst)
	}
}

func (m *Mover) moveBetweenFS(src, dst string, srcMu, dstMu *sync.Mutex) error {
	if m.CrossFS != nil {
		m.CrossFS.Lock()
		defer m.CrossFS.Unlock()
	}
	st, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "stat old file %q", src)
	}
	fin, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open old file %q", src)
	}
	defer fin.Close()
	fout, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open new file %q", dst)
	}
	defer fout.Close()

	remain := st.Size()
	for remain > 0 {
		count := remain
		if count > sendChunk {
			count = sendChunk
		}
		n, err := m.sendfile(fout, fin, int(count), srcMu, dstMu)
		if err != nil {
			return errors.Wrapf(err, "send file %q -> %q", src, dst)
		}
		remain -= int64(n)
	}
	if err := os.Remove(src); err != nil {
		m.Log.WithError(err).Errorf("failed to unlink old file %q", src)
	}
	return nil
}

// one copy call, under the half-duplex locks (source first, then destination)
func (m *Mover) sendfile(fout, fin *os.File, count int, srcMu, dstMu *sync.Mutex) (int, error) {
	if srcMu != nil {
		srcMu.Lock()
		defer srcMu.Unlock()
	}
	if dstMu != nil {
		dstMu.Lock()
		defer dstMu.Unlock()
	}
	return unix.Sendfile(int(fout.Fd()), int(fin.Fd()), nil, count)
}
