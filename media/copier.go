// Package media provides the MediaCopier contract required by the recorders
// and its ffmpeg-based implementation. A copier remuxes an input URL into a
// container file until a wall-clock deadline or input EOF; only audio, video
// and subtitle streams are carried over, with identical codecs.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package media

import (
	"context"
	"time"

	"github.com/7Ji/nvr/xwork"
)

// Copier starts one copy worker per segment. Start must not block on the
// input; liveness is observed through the returned handle. Cancel on the
// handle requests graceful termination: the copier still writes the
// container trailer if feasible.
type Copier interface {
	Start(url, outPath string, end time.Time) (xwork.Handle, error)
	// Probe checks that the input URL produces a readable stream.
	Probe(ctx context.Context, url string) error
}
