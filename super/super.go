// Package super provides the NVR supervisor: it bootstraps the storage tiers
// and camera recorders, drives both off a single 1 Hz cooperative loop, and
// bounds worker failure so that a broken camera or disk degrades into logged
// silence instead of a crash loop.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package super

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/7Ji/nvr/cmn"
	"github.com/7Ji/nvr/cmn/cos"
	"github.com/7Ji/nvr/fs"
	"github.com/7Ji/nvr/media"
	"github.com/7Ji/nvr/rec"
	"github.com/7Ji/nvr/space"
	"github.com/7Ji/nvr/xwork"
)

const (
	tickInterval = time.Second
	probeTimeout = 30 * time.Second
)

type (
	// State owns every mutable counter and mutex of the running supervisor;
	// the configuration value next to it never changes after startup.
	State struct {
		crossFSMu       *sync.Mutex
		runningCleaners int
	}

	Supervisor struct {
		lg     logrus.FieldLogger
		clock  clockwork.Clock
		copier media.Copier
		capFn  fs.CapFn

		config  *cmn.Config
		state   State
		cleaner *space.Cleaner
		tiers   []*space.Tier
		// per-tier cleaner handles, indexed like tiers
		handles []xwork.Handle
		cameras []*rec.Camera
	}
)

func New(config *cmn.Config, lg logrus.FieldLogger) *Supervisor {
	return &Supervisor{
		lg:     lg,
		clock:  clockwork.NewRealClock(),
		copier: media.NewFFmpeg(lg),
		capFn:  fs.GetCap,
		config: config,
	}
}

// testing hooks; production wiring comes from New
func (s *Supervisor) SetClock(c clockwork.Clock) { s.clock = c }
func (s *Supervisor) SetCopier(c media.Copier)   { s.copier = c }
func (s *Supervisor) SetCapFn(f fs.CapFn)        { s.capFn = f }
func (s *Supervisor) Tiers() []*space.Tier       { return s.tiers }
func (s *Supervisor) Cameras() []*rec.Camera     { return s.cameras }

// Init validates the configuration, creates the tier trees, resolves the
// free-space thresholds against the mounted volumes, builds the recorders
// and preflights every camera URL. Any failure here is fatal.
func (s *Supervisor) Init() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.state.crossFSMu == nil && s.config.LimitMoveAcrossFS {
		s.state.crossFSMu = &sync.Mutex{}
	}

	s.tiers = make([]*space.Tier, 0, len(s.config.Storages))
	for _, def := range s.config.Storages {
		tier, err := s.initTier(def)
		if err != nil {
			return errors.Wrapf(err, "init storage %q", def.Path)
		}
		s.tiers = append(s.tiers, tier)
	}
	for i := range s.tiers[:len(s.tiers)-1] {
		s.tiers[i].Next = s.tiers[i+1]
	}
	s.handles = make([]xwork.Handle, len(s.tiers))
	s.cleaner = &space.Cleaner{
		Log:     s.lg,
		Mover:   &fs.Mover{Log: s.lg, CrossFS: s.state.crossFSMu},
		Cap:     s.capFn,
		Oneshot: s.config.Oneshot(),
	}

	head := s.tiers[0]
	s.cameras = make([]*rec.Camera, 0, len(s.config.Cameras))
	for _, def := range s.config.Cameras {
		cam, err := rec.NewCamera(def, head.Path, s.copier, s.clock, s.lg)
		if err != nil {
			return err
		}
		s.cameras = append(s.cameras, cam)
	}
	if !s.config.SkipProbe {
		if err := s.preflight(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) initTier(def cmn.StorageDef) (*space.Tier, error) {
	if err := cos.CreateDir(def.Path); err != nil {
		return nil, errors.Wrapf(err, "create storage tree")
	}
	cs, err := s.capFn(def.Path)
	if err != nil {
		return nil, err
	}
	fromFree, toFree, err := fs.ResolveThresholds(cs, def.From, def.To)
	if err != nil {
		return nil, err
	}
	s.lg.Infof("storage %q: %d total blocks, clean from %d free blocks to %d", def.Path, cs.Total, fromFree, toFree)
	return space.NewTier(def.Path, fromFree, toFree, def.HalfDuplex), nil
}

func (s *Supervisor) preflight() error {
	var g errgroup.Group
	for _, cam := range s.cameras {
		g.Go(func() error {
			s.lg.Warnf("checking if url %q works", cam.URL)
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			defer cancel()
			if err := s.copier.Probe(ctx, cam.URL); err != nil {
				return errors.Wrapf(err, "camera url %q does not work", cam.URL)
			}
			s.lg.Warnf("camera url %q works", cam.URL)
			return nil
		})
	}
	return g.Wait()
}

// Run drives the supervisor loop until the context is cancelled, then shuts
// every worker down with a bounded wait.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.Chan():
			if err := s.Tick(); err != nil {
				s.shutdown()
				return err
			}
		}
	}
}

// Tick runs one supervisor pass: reap or start cleaners per tier, then
// advance every camera. The returned error is always an invariant violation.
func (s *Supervisor) Tick() error {
	for i, tier := range s.tiers {
		if h := s.handles[i]; h != nil {
			r := h.Poll()
			if r.Status == xwork.Running {
				continue
			}
			if !tier.IsCleaning() {
				return cos.NewErrInternal("tier %q has a worker but is not cleaning", tier.Path)
			}
			if r.Err != nil {
				s.lg.WithError(r.Err).Errorf("cleaner %s for %q failed", h.ID(), tier.Path)
			}
			s.handles[i] = nil
			tier.SetIdle()
			s.state.runningCleaners--
			continue
		}
		s.startCleanerIfNeeded(i, tier)
	}
	for _, cam := range s.cameras {
		cam.Tick()
	}
	return nil
}

func (s *Supervisor) startCleanerIfNeeded(i int, tier *space.Tier) {
	if s.config.MaxCleaners > 0 && s.state.runningCleaners >= s.config.MaxCleaners {
		return
	}
	cs, err := s.capFn(tier.Path)
	if err != nil {
		s.lg.WithError(err).Errorf("failed to observe free space of %q", tier.Path)
		return
	}
	if cs.Free > tier.FromFree {
		return
	}
	if !tier.SetCleaning() {
		return
	}
	s.lg.Warnf("storage %q is low on space (%d free of %d blocks), cleaning", tier.Path, cs.Free, cs.Total)
	s.handles[i] = xwork.Go("clean", func(stop <-chan struct{}) error {
		return s.cleaner.Run(tier, stop)
	})
	s.state.runningCleaners++
}

func (s *Supervisor) shutdown() {
	s.lg.Infoln("shutting down")
	for _, cam := range s.cameras {
		cam.Shutdown()
	}
	for i, h := range s.handles {
		if h == nil {
			continue
		}
		h.Cancel()
		if _, ok := h.Join(2 * tickInterval); !ok {
			s.lg.Errorf("cleaner %s for %q did not terminate in time", h.ID(), s.tiers[i].Path)
		}
		s.handles[i] = nil
		s.tiers[i].SetIdle()
	}
	s.state.runningCleaners = 0
}
