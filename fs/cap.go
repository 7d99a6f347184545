// Package fs provides filesystem primitives for the NVR supervisor: capacity
// observation, the oldest-first scan, and tier-to-tier file moves.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package fs

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/7Ji/nvr/cmn"
)

// Cap is a point-in-time capacity observation of one mounted volume, in
// blocks of BlockSize bytes.
type Cap struct {
	Total     uint64
	Free      uint64
	BlockSize uint64
}

// CapFn is the capacity-observation dependency of the cleaner and the
// supervisor; production code uses GetCap.
type CapFn func(path string) (Cap, error)

func GetCap(path string) (Cap, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Cap{}, errors.Wrapf(err, "statfs %q", path)
	}
	return Cap{
		Total:     st.Blocks,
		Free:      st.Bfree,
		BlockSize: uint64(st.Bsize),
	}, nil
}

// ResolveThresholds turns a tier's from/to thresholds into absolute
// free-block counts against the observed volume geometry. Both are clamped
// to the total; a resolved to-free of zero can never trigger and is refused;
// from >= to is clamped to to - 1.
func ResolveThresholds(c Cap, from, to cmn.Threshold) (fromBlocks, toBlocks uint64, _ error) {
	if c.Total == 0 {
		return 0, 0, errors.New("volume has 0 blocks")
	}
	fromBlocks = from.Blocks(c.Total, c.BlockSize)
	toBlocks = to.Blocks(c.Total, c.BlockSize)
	if fromBlocks > c.Total {
		fromBlocks = c.Total
	}
	if toBlocks > c.Total {
		toBlocks = c.Total
	}
	if toBlocks == 0 {
		return 0, 0, errors.New("to-free resolves to 0 blocks, cleaning would never stop")
	}
	if fromBlocks >= toBlocks {
		fromBlocks = toBlocks - 1
	}
	return fromBlocks, toBlocks, nil
}
