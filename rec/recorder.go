// Package rec provides the per-camera segmented recorder. A recorder turns
// one camera URL into a continuous series of container files aligned to
// 10-minute wall-clock boundaries, handing off between overlapping media
// copiers at each boundary and backing off when the camera keeps breaking.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package rec

import (
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/7Ji/nvr/cmn"
	"github.com/7Ji/nvr/cmn/cos"
	"github.com/7Ji/nvr/media"
	"github.com/7Ji/nvr/xwork"
)

type State int

const (
	Idle State = iota
	Recording
	Handover
	BackingOff
)

const (
	// SegmentGrace extends each copier past its boundary so that no frame
	// falls between two files when the stream drifts against wall clock.
	SegmentGrace = 5 * time.Second
	// a previous copier gets this much beyond its own end-time before the
	// recorder force-cancels it
	cancelSlack = 5 * time.Second

	joinTimeout = 10 * time.Second
)

// BackoffLadder maps consecutive-break counts to skip-tick penalties,
// largest rung first. A var, not const, so it can be overridden.
var BackoffLadder = []struct {
	Breaks int
	Ticks  int
}{
	{10000, 600},
	{1000, 90},
	{100, 10},
}

// Camera is one recorder. The supervisor owns it and drives it through Tick
// at 1 Hz; Tick never blocks beyond the handle poll cost.
type Camera struct {
	lg      logrus.FieldLogger
	clock   clockwork.Clock
	copier  media.Copier
	pattern *strftime.Strftime

	Name string
	URL  string
	base string // head-tier directory receiving segments

	state    State
	current  xwork.Handle
	previous xwork.Handle
	// end boundary of the current segment window
	boundary time.Time
	// deadline of the previous copier, for the force-cancel rule
	prevEnd time.Time

	breakCount  int
	backoffLeft int
}

func NewCamera(def cmn.CameraDef, base string, copier media.Copier, clock clockwork.Clock, lg logrus.FieldLogger) (*Camera, error) {
	pattern, err := strftime.New(def.Pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "camera %q: bad strftime pattern %q", def.Name, def.Pattern)
	}
	return &Camera{
		lg:      lg.WithField("camera", def.Name),
		clock:   clock,
		copier:  copier,
		pattern: pattern,
		Name:    def.Name,
		URL:     def.URL,
		base:    base,
	}, nil
}

func (c *Camera) State() State    { return c.state }
func (c *Camera) BreakCount() int { return c.breakCount }

// NextBoundary returns the earliest 10-minute wall-clock alignment point more
// than one minute after now: minute ((m+11)/10)*10, second 0, wrapping into
// the next hour when needed.
func NextBoundary(now time.Time) time.Time {
	m := (now.Minute() + 11) / 10 * 10
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	return hour.Add(time.Duration(m) * time.Minute)
}

// Tick advances the camera state machine by one supervisor tick.
func (c *Camera) Tick() {
	now := c.clock.Now()
	wasBackingOff := c.state == BackingOff

	if c.previous != nil {
		if r := c.previous.Poll(); r.Status != xwork.Running {
			c.observe(r)
			c.previous = nil
		} else if !now.Before(c.prevEnd.Add(cancelSlack)) {
			// overran its own deadline; ask it to flush and go
			c.previous.Cancel()
		}
	}

	if c.state == BackingOff {
		if wasBackingOff {
			c.backoffLeft--
			if c.backoffLeft <= 0 {
				c.state = Idle
				c.lg.Warnf("backoff over after %d breaks, retrying", c.breakCount)
			}
		}
		return
	}

	if c.current != nil {
		if r := c.current.Poll(); r.Status != xwork.Running {
			c.observe(r)
			c.current = nil
		}
	}
	if c.state == BackingOff {
		// the break that was just observed crossed a ladder rung
		c.drop(&c.previous)
		return
	}

	switch {
	case c.current == nil:
		// idle, or the copier quit early: open a fresh segment right away
		c.startSegment(now)
	case !now.Before(c.boundary):
		// boundary crossed with the current copier still flushing
		if c.previous != nil {
			// double overrun; a third generation is never retained
			c.lg.Warnf("previous copier %s still alive at handover, force-cancelling", c.previous.ID())
			c.drop(&c.previous)
		}
		c.previous = c.current
		c.prevEnd = c.boundary.Add(SegmentGrace)
		c.current = nil
		c.startSegment(now)
	}

	if c.current != nil {
		if c.previous != nil {
			c.state = Handover
		} else {
			c.state = Recording
		}
	}
}

// Shutdown cancels both copiers and waits a bounded time for each.
func (c *Camera) Shutdown() {
	for _, h := range []xwork.Handle{c.current, c.previous} {
		if h == nil {
			continue
		}
		h.Cancel()
		if _, ok := h.Join(joinTimeout); !ok {
			c.lg.Errorf("copier %s did not terminate within %s", h.ID(), joinTimeout)
		}
	}
	c.current, c.previous = nil, nil
	c.state = Idle
}

func (c *Camera) startSegment(now time.Time) {
	boundary := NextBoundary(now)
	path := filepath.Join(c.base, c.pattern.FormatString(now)+cmn.RecordSuffix)
	if err := cos.CreateParent(path); err != nil {
		c.lg.WithError(err).Errorf("failed to mkdir for all parents of %q", path)
		c.recordBreak()
		return
	}
	h, err := c.copier.Start(c.URL, path, boundary.Add(SegmentGrace))
	if err != nil {
		c.lg.WithError(err).Errorf("failed to launch copier for %q", c.URL)
		c.recordBreak()
		return
	}
	c.current = h
	c.boundary = boundary
}

func (c *Camera) observe(r xwork.Result) {
	if r.Status == xwork.ExitedOk {
		c.breakCount = 0
		return
	}
	c.lg.Warnf("copier exited with %d which is not expected, but we accept it", r.Code)
	c.recordBreak()
}

func (c *Camera) recordBreak() {
	c.breakCount++
	for _, rung := range BackoffLadder {
		if c.breakCount > rung.Breaks {
			c.state = BackingOff
			c.backoffLeft = rung.Ticks
			c.lg.Warnf("%d consecutive breaks, backing off for %d ticks", c.breakCount, rung.Ticks)
			c.drop(&c.current)
			return
		}
	}
}

// drop cancels a handle and reaps it off-tick; the slot is freed now.
func (c *Camera) drop(h *xwork.Handle) {
	if *h == nil {
		return
	}
	old := *h
	*h = nil
	old.Cancel()
	go old.Join(joinTimeout)
}
