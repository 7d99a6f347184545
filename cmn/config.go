// Package cmn provides common constants, types, and utilities for the NVR
// supervisor.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package cmn

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// In this source: the startup configuration value and the parsers that build
// it from --storage and --camera definitions.
//
// Storage definition: PATH:FROM:TO[:half_duplex]
// Camera definition:  NAME:STRFTIME:URL
//
// FROM and TO each accept a bare integer (free-block count), a trailing '%'
// (percent of total blocks), or a size suffix k/m/g/t with an optional 'b'
// (absolute bytes, each suffix multiplying by 1024). Resolution to absolute
// block counts happens at bootstrap, against the mounted volume.

const DefaultPatternSuffix = "%Y%m%d_%H%M%S"

const (
	halfDuplexTag = "half_duplex"
	RecordSuffix  = ".mkv"
)

type (
	ThresholdKind int

	Threshold struct {
		Value uint64
		Kind  ThresholdKind
	}

	// StorageDef is one --storage argument; order of definitions is the tier
	// order, the last tier deletes instead of moving.
	StorageDef struct {
		Path       string
		From       Threshold
		To         Threshold
		HalfDuplex bool
	}

	// CameraDef is one --camera argument.
	CameraDef struct {
		Name    string
		Pattern string
		URL     string
	}

	// Config is immutable once built; all mutable supervisor state lives in
	// super.State.
	Config struct {
		Storages []StorageDef
		Cameras  []CameraDef

		// positive MaxCleaners bounds concurrent cleaners and switches
		// non-last tiers to one eviction per pass
		MaxCleaners       int
		LimitMoveAcrossFS bool
		SkipProbe         bool
	}
)

const (
	ThresholdBlocks ThresholdKind = iota
	ThresholdPercent
	ThresholdBytes
)

// Oneshot reports whether intermediate tiers evict once per pass rather than
// draining to the to-free threshold.
func (c *Config) Oneshot() bool { return c.MaxCleaners > 0 }

func (c *Config) Validate() error {
	if len(c.Storages) == 0 {
		return errors.New("no storage defined")
	}
	if len(c.Cameras) == 0 {
		return errors.New("no camera defined")
	}
	return nil
}

///////////////
// Threshold //
///////////////

func ParseThreshold(s string) (th Threshold, _ error) {
	if s == "" {
		return th, errors.New("empty threshold")
	}
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseUint(strings.TrimSuffix(s, "%"), 10, 64)
		if err != nil {
			return th, errors.Wrapf(err, "invalid percent threshold %q", s)
		}
		if v > 100 {
			return th, errors.Errorf("percent threshold %q exceeds 100", s)
		}
		return Threshold{Kind: ThresholdPercent, Value: v}, nil
	}
	num := strings.TrimSuffix(strings.ToLower(s), "b")
	var mult uint64
	switch {
	case strings.HasSuffix(num, "k"):
		mult = 1 << 10
	case strings.HasSuffix(num, "m"):
		mult = 1 << 20
	case strings.HasSuffix(num, "g"):
		mult = 1 << 30
	case strings.HasSuffix(num, "t"):
		mult = 1 << 40
	}
	if mult != 0 {
		v, err := strconv.ParseUint(num[:len(num)-1], 10, 64)
		if err != nil {
			return th, errors.Wrapf(err, "invalid size threshold %q", s)
		}
		return Threshold{Kind: ThresholdBytes, Value: v * mult}, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return th, errors.Wrapf(err, "invalid block-count threshold %q", s)
	}
	return Threshold{Kind: ThresholdBlocks, Value: v}, nil
}

// Blocks resolves the threshold to an absolute free-block count for a volume
// with the given geometry. Results above the total are clamped by the caller
// together with the from < to adjustment.
func (th Threshold) Blocks(totalBlocks, blockSize uint64) uint64 {
	switch th.Kind {
	case ThresholdPercent:
		return totalBlocks * th.Value / 100
	case ThresholdBytes:
		if blockSize == 0 {
			return 0
		}
		return th.Value / blockSize
	default:
		return th.Value
	}
}

/////////////////
// definitions //
/////////////////

func ParseStorageDef(arg string) (def StorageDef, _ error) {
	fields := strings.Split(arg, ":")
	if len(fields) < 3 || len(fields) > 4 {
		return def, errors.Errorf("storage definition incomplete: %q", arg)
	}
	if fields[0] == "" {
		return def, errors.Errorf("storage definition has empty path: %q", arg)
	}
	from, err := ParseThreshold(fields[1])
	if err != nil {
		return def, errors.Wrapf(err, "storage definition %q", arg)
	}
	to, err := ParseThreshold(fields[2])
	if err != nil {
		return def, errors.Wrapf(err, "storage definition %q", arg)
	}
	if from.Kind == to.Kind && from.Value >= to.Value {
		return def, errors.Errorf("from-free %q must be less than to-free %q: %q", fields[1], fields[2], arg)
	}
	def = StorageDef{Path: fields[0], From: from, To: to}
	if len(fields) == 4 {
		if fields[3] != halfDuplexTag {
			return def, errors.Errorf("unrecognized storage option %q: %q", fields[3], arg)
		}
		def.HalfDuplex = true
	}
	return def, nil
}

func ParseCameraDef(arg string) (def CameraDef, _ error) {
	fields := strings.SplitN(arg, ":", 3)
	if len(fields) < 3 {
		return def, errors.Errorf("camera definition incomplete: %q", arg)
	}
	name, pattern, url := fields[0], fields[1], fields[2]
	if url == "" {
		return def, errors.Errorf("camera definition has empty url: %q", arg)
	}
	if name == "" && pattern == "" {
		return def, errors.Errorf("camera definition has neither name nor strftime: %q", arg)
	}
	if pattern == "" {
		pattern = name + "_" + DefaultPatternSuffix
	}
	return CameraDef{Name: name, Pattern: pattern, URL: url}, nil
}
