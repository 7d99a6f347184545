// Package cmn provides common constants, types, and utilities for the NVR
// supervisor.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package cmn

const GitHubHome = "https://github.com/7Ji/nvr"

// (major.minor) version is updated manually prior to each release; making a
// build with an updated version is the precondition to creating the
// corresponding git tag.
const VersionNVR = "0.4"
