// Package fs provides filesystem primitives for the NVR supervisor: capacity
// observation, the oldest-first scan, and tier-to-tier file moves.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package fs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/7Ji/nvr/cmn/cos"
)

const lostFound = "lost+found"

// Oldest is the result of one scan pass.
type Oldest struct {
	// Rel is the victim's path relative to the scanned root; empty when the
	// tree holds no regular file.
	Rel string
	// Entries counts surviving non-dot, non-lost+found entries.
	Entries uint64
}

// FindOldest walks the tree under root and returns the relative subpath of
// the regular file with the smallest mtime (seconds precision, first-seen
// wins ties). Dot entries and lost+found are skipped. Subdirectories found
// empty are removed and not counted. Per-entry stat failures are logged and
// skipped; only a failure to read the tree itself is returned.
func FindOldest(root string, lg logrus.FieldLogger) (res Oldest, _ error) {
	var oldestSec int64
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == root {
				return nil
			}
			name := de.Name()
			if name == "" || strings.HasPrefix(name, ".") || name == lostFound {
				if de.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			res.Entries++
			if !de.IsRegular() {
				return nil
			}
			st, err := os.Lstat(path)
			if err != nil {
				lg.WithError(err).Errorf("failed to stat %q, skipping", path)
				return nil
			}
			if sec := st.ModTime().Unix(); res.Rel == "" || sec < oldestSec {
				rel, err := filepath.Rel(root, path)
				if err != nil {
					return err
				}
				oldestSec = sec
				res.Rel = rel
			}
			return nil
		},
		PostChildrenCallback: func(path string, de *godirwalk.Dirent) error {
			if path == root {
				return nil
			}
			if name := de.Name(); name == "" || strings.HasPrefix(name, ".") || name == lostFound {
				return nil
			}
			// empty non-root subdirectory: remove and uncount
			err := unix.Rmdir(path)
			switch {
			case err == nil:
				res.Entries--
			case cos.IsErrNotEmpty(err):
				// still populated
			default:
				lg.WithError(err).Errorf("failed to remove empty subfolder %q", path)
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			lg.WithError(err).Errorf("failed to scan %q, skipping", path)
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return Oldest{}, errors.Wrapf(err, "scan %q", root)
	}
	return res, nil
}
