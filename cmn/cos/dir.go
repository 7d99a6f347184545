// Package cos provides common low-level types and utilities for the NVR supervisor.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package cos

import (
	"os"
	"path/filepath"
)

const PermRWXRX = os.FileMode(0o755)

// CreateDir creates the directory and all its parents (0755, as the recorder
// and storage trees expect).
func CreateDir(dir string) error {
	return os.MkdirAll(dir, PermRWXRX)
}

// CreateParent ensures the parent directory of the given path exists.
func CreateParent(path string) error {
	return CreateDir(filepath.Dir(path))
}
