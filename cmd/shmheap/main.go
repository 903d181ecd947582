// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Command shmheap inspects and maintains managed shared memory regions.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Version is set at build time.
var Version = "0.1.0"

func newApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "shmheap"
	app.Version = Version
	app.Usage = "inspect and maintain managed shared memory regions"
	app.Writer = out
	app.ErrWriter = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log level: debug, info, warn or error",
			Value: "warn",
		},
		cli.BoolFlag{
			Name:  "log-json",
			Usage: "write logs as json",
		},
	}
	app.Before = func(c *cli.Context) error {
		logger, err := newLogger(os.Stderr, c.String("log-level"), c.Bool("log-json"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	}
	app.Commands = []cli.Command{
		cmdCreate,
		cmdInfo,
		cmdList,
		cmdCheck,
		cmdDump,
		cmdRemove,
		cmdMetrics,
	}
	return app
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "shmheap: %v\n", err)
		os.Exit(1)
	}
}
