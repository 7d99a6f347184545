// Package xwork provides the worker-handle abstraction shared by cleaners
// and media copiers: spawn, observe liveness via a non-blocking poll, request
// cancellation, and collect the exit status.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package xwork

import (
	"sync"
	"time"

	"github.com/teris-io/shortid"
)

type Status int

const (
	Running Status = iota
	ExitedOk
	ExitedErr
)

type (
	Result struct {
		Err    error
		Status Status
		Code   int
	}

	// Handle is the only way the supervisor and the recorders interact with
	// a worker, whatever its kind (goroutine or child process).
	Handle interface {
		ID() string
		Poll() Result
		Cancel()
		// Join blocks up to the given duration; ok reports whether the
		// worker terminated within it.
		Join(timeout time.Duration) (res Result, ok bool)
	}

	goWorker struct {
		id     string
		done   chan struct{}
		stop   chan struct{}
		res    Result // written once, before done is closed
		cancel sync.Once
	}
)

// GenID returns a short worker ID for logs.
func GenID(name string) string {
	id, err := shortid.Generate()
	if err != nil {
		return name
	}
	return name + "-" + id
}

// Go runs fn on its own goroutine and returns its handle. The stop channel
// passed to fn is closed on Cancel; honoring it is cooperative.
func Go(name string, fn func(stop <-chan struct{}) error) Handle {
	w := &goWorker{
		id:   GenID(name),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go func() {
		if err := fn(w.stop); err != nil {
			w.res = Result{Status: ExitedErr, Code: 1, Err: err}
		} else {
			w.res = Result{Status: ExitedOk}
		}
		close(w.done)
	}()
	return w
}

func (w *goWorker) ID() string { return w.id }

func (w *goWorker) Poll() Result {
	select {
	case <-w.done:
		return w.res
	default:
		return Result{Status: Running}
	}
}

func (w *goWorker) Cancel() {
	w.cancel.Do(func() { close(w.stop) })
}

func (w *goWorker) Join(timeout time.Duration) (Result, bool) {
	select {
	case <-w.done:
		return w.res, true
	case <-time.After(timeout):
		return Result{Status: Running}, false
	}
}
