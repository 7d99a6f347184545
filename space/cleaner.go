// Package space provides storage cleanup for the tiered recording
// hierarchy: when a tier's free space falls below its trigger, the oldest
// files are evicted to the next tier, and on the final tier deleted.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package space

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/7Ji/nvr/cmn/cos"
	"github.com/7Ji/nvr/fs"
)

const (
	// safety bound on evictions per pass
	maxEvictions = 0xffff
	// poll interval while the downstream tier is draining
	downstreamPoll = time.Second
)

// Cleaner evicts the oldest files of a tier until its free space recovers to
// the to-free threshold. One Cleaner value serves all tiers; each pass runs
// on its own worker with the tier's state already set to Cleaning by the
// supervisor.
type Cleaner struct {
	Log   logrus.FieldLogger
	Mover *fs.Mover
	Cap   fs.CapFn
	// Oneshot makes non-last tiers perform a single eviction per pass
	// (--max-cleaners); the last tier always drains, deletion cannot
	// deadlock downstream.
	Oneshot bool
}

// Run is the body of one cleaning pass over the given tier. It returns an
// error only when the pass can make no progress at all; individual-file
// failures are logged and skipped inside the scan.
func (cln *Cleaner) Run(t *Tier, stop <-chan struct{}) error {
	lg := cln.Log.WithField("tier", t.Path)
	var cleaned int
	for i := 0; i < maxEvictions; i++ {
		// downstream must be drained before pushing more into it,
		// otherwise a slower tier piles up without bound
		if t.Next != nil {
			if stopped := cln.waitDownstream(t, stop); stopped {
				break
			}
		}
		oldest, err := fs.FindOldest(t.Path, lg)
		if err != nil {
			return err
		}
		if oldest.Rel == "" {
			break
		}
		victim := filepath.Join(t.Path, oldest.Rel)
		lg.Warnf("cleaning oldest file %q (currently %d entries)", victim, oldest.Entries)
		if t.Next != nil {
			target := filepath.Join(t.Next.Path, oldest.Rel)
			if err := cln.Mover.Move(victim, target, t.IOMu(), t.Next.IOMu()); err != nil {
				return errors.Wrapf(err, "move %q to %q", victim, target)
			}
			lg.Warnf("moved file %q to %q", victim, target)
		} else {
			if err := os.Remove(victim); err != nil {
				if !cos.IsErrNotExist(err) {
					return errors.Wrapf(err, "unlink %q", victim)
				}
				lg.Warnf("file %q vanished before unlink, ignoring", victim)
			} else {
				lg.Warnf("removed file %q", victim)
			}
		}
		cleaned++
		if cln.Oneshot && t.Next != nil {
			break
		}
		cs, err := cln.Cap(t.Path)
		if err != nil {
			return err
		}
		if cs.Free >= t.ToFree {
			break
		}
		select {
		case <-stop:
			return nil
		default:
		}
	}
	lg.Warnf("cleaned %d record files", cleaned)
	return nil
}

func (cln *Cleaner) waitDownstream(t *Tier, stop <-chan struct{}) (stopped bool) {
	for t.Next.IsCleaning() {
		select {
		case <-stop:
			return true
		case <-time.After(downstreamPoll):
		}
	}
	return false
}
