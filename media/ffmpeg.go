// Package media provides the MediaCopier contract required by the recorders
// and its ffmpeg-based implementation.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package media

import (
	"context"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/7Ji/nvr/xwork"
)

const (
	DefaultFFmpeg  = "/usr/bin/ffmpeg"
	DefaultFFprobe = "/usr/bin/ffprobe"
)

// FFmpeg copies segments by running ffmpeg in copy-codec (remux) mode, the
// same invocation the supervisor has always used:
//
//	ffmpeg -use_wallclock_as_timestamps 1 -i URL -c copy -t DUR -y PATH
//
// ffmpeg drops non-A/V/subtitle packets, rescales timestamps to the output
// time base, and on SIGINT finishes the file with its trailer, which is
// exactly the cancellation behavior the recorder needs.
type FFmpeg struct {
	Log         logrus.FieldLogger
	Clock       clockwork.Clock
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpeg(lg logrus.FieldLogger) *FFmpeg {
	return &FFmpeg{
		Log:         lg,
		Clock:       clockwork.NewRealClock(),
		FFmpegPath:  DefaultFFmpeg,
		FFprobePath: DefaultFFprobe,
	}
}

func (f *FFmpeg) Start(url, outPath string, end time.Time) (xwork.Handle, error) {
	dur := end.Sub(f.Clock.Now())
	if dur < time.Second {
		dur = time.Second
	}
	seconds := int64(dur.Round(time.Second) / time.Second)
	cmd := exec.Command(f.FFmpegPath,
		"-use_wallclock_as_timestamps", "1",
		"-i", url,
		"-c", "copy",
		"-t", strconv.FormatInt(seconds, 10),
		"-y", outPath,
	)
	// stdout and stderr go to the null device
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "exec ffmpeg for %q", url)
	}
	w := &procWorker{
		id:   xwork.GenID("copy"),
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		w.res = resultFromWait(err)
		close(w.done)
	}()
	f.Log.Warnf("recording from %q to %q, duration %ds, worker %s", url, outPath, seconds, w.id)
	return w, nil
}

func (f *FFmpeg) Probe(ctx context.Context, url string) error {
	cmd := exec.CommandContext(ctx, f.FFprobePath, url)
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "ffprobe %q", url)
	}
	return nil
}

func resultFromWait(err error) xwork.Result {
	if err == nil {
		return xwork.Result{Status: xwork.ExitedOk}
	}
	code := 1
	var xerr *exec.ExitError
	if errors.As(err, &xerr) {
		code = xerr.ExitCode()
		if code < 0 { // killed by signal
			if ws, ok := xerr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				code = 128 + int(ws.Signal())
			}
		}
	}
	return xwork.Result{Status: xwork.ExitedErr, Code: code, Err: err}
}

// procWorker adapts a child process to the worker-handle contract.
type procWorker struct {
	id     string
	cmd    *exec.Cmd
	done   chan struct{}
	res    xwork.Result
	cancel sync.Once
}

func (w *procWorker) ID() string { return w.id }

func (w *procWorker) Poll() xwork.Result {
	select {
	case <-w.done:
		return w.res
	default:
		return xwork.Result{Status: xwork.Running}
	}
}

// Cancel sends SIGINT so ffmpeg flushes its trailing packets and writes the
// trailer before exiting.
func (w *procWorker) Cancel() {
	w.cancel.Do(func() {
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Signal(syscall.SIGINT)
		}
	})
}

func (w *procWorker) Join(timeout time.Duration) (xwork.Result, bool) {
	select {
	case <-w.done:
		return w.res, true
	case <-time.After(timeout):
		return xwork.Result{Status: xwork.Running}, false
	}
}
