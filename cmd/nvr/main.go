// Package main implements the nvr command: a multi-camera network video
// recorder supervisor with tiered storage cleanup.
/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/7Ji/nvr/cmn"
	"github.com/7Ji/nvr/super"
)

const (
	exitArg      = 2
	exitInit     = 3
	exitInternal = 4
)

func main() {
	app := cli.NewApp()
	app.Name = "nvr"
	app.Usage = "record many camera streams into tiered, self-cleaning storage"
	app.Version = cmn.VersionNVR
	app.Flags = []cli.Flag{
		cli.StringSliceFlag{
			Name:  "storage",
			Usage: "append a storage tier, `PATH:FROM:TO[:half_duplex]`; FROM/TO take a free-block count, a percent (%), or bytes (k/m/g/t[b])",
		},
		cli.StringSliceFlag{
			Name:  "camera",
			Usage: "append a camera, `NAME:STRFTIME:URL`; empty STRFTIME defaults to NAME_" + cmn.DefaultPatternSuffix,
		},
		cli.IntFlag{
			Name:  "max-cleaners",
			Usage: "bound concurrent cleaners; positive values also switch intermediate tiers to one eviction per pass",
		},
		cli.BoolFlag{
			Name:  "limit-move-across-fs",
			Usage: "serialise cross-filesystem file moves globally",
		},
		cli.BoolFlag{
			Name:  "skip-probe",
			Usage: "do not preflight camera URLs with ffprobe at startup",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		os.Exit(exitInternal)
	}
}

func run(c *cli.Context) error {
	lg := logrus.New()
	lg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	config, err := parseConfig(c)
	if err != nil {
		lg.Errorln(err)
		return cli.NewExitError("", exitArg)
	}
	s := super.New(config, lg)
	if err := s.Init(); err != nil {
		lg.Errorln(err)
		return cli.NewExitError("", exitInit)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := s.Run(ctx); err != nil {
		lg.Errorln(err)
		return cli.NewExitError("", exitInternal)
	}
	return nil
}

func parseConfig(c *cli.Context) (*cmn.Config, error) {
	config := &cmn.Config{
		MaxCleaners:       c.Int("max-cleaners"),
		LimitMoveAcrossFS: c.Bool("limit-move-across-fs"),
		SkipProbe:         c.Bool("skip-probe"),
	}
	for _, arg := range c.StringSlice("storage") {
		def, err := cmn.ParseStorageDef(arg)
		if err != nil {
			return nil, err
		}
		config.Storages = append(config.Storages, def)
	}
	for _, arg := range c.StringSlice("camera") {
		def, err := cmn.ParseCameraDef(arg)
		if err != nil {
			return nil, err
		}
		config.Cameras = append(config.Cameras, def)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
