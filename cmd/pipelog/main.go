// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pipelog/pipelog/pkg/pipelog"
	"github.com/pipelog/pipelog/pkg/version"
)

func main() {
	if err := Run(context.Background()); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	cli.VersionFlag.(*cli.BoolFlag).Aliases = []string{"V"}

	var pidfile, fifo, logPath string
	var quiet, verbose, exitOnWriteError, noSplice bool

	app := &cli.App{
		Name:      "pipelog",
		Usage:     "pipe to time-rotated log files",
		Version:   version.Version,
		ArgsUsage: "[FILE [@LINK]]...",
		Description: "FILE can be a path or \"STDOUT\" or \"STDERR\"; \"-\" is a shorthand for\n" +
			"\"STDOUT\". A path may contain strftime format specifications, and missing\n" +
			"ancestor directories of the log file are created as needed (directory names\n" +
			"may contain format specifications too).\n" +
			"\n" +
			"LINK may be a path where a symbolic link to the latest FILE is kept. The\n" +
			"target of the link is the absolute path of FILE, so LINK is only possible\n" +
			"when FILE is a path.\n" +
			"\n" +
			"On SIGHUP pipelog re-opens all of its open files, which may create new empty\n" +
			"log files if the timestamp changed. With a single output file splice() is\n" +
			"used to transfer data without user-space copies.\n" +
			"\n" +
			"EXAMPLE:\n" +
			"\n" +
			"   myservice | pipelog - \\\n" +
			"       /var/log/myservice-%Y-%m-%d.log \\\n" +
			"       @/var/log/myservice.log",
		Suggest:                true,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "pidfile",
				Aliases:     []string{"p"},
				Usage:       "write the process ID to `FILE` and remove it on exit",
				EnvVars:     []string{"PIPELOG_PIDFILE"},
				Destination: &pidfile,
			},
			&cli.StringFlag{
				Name:        "fifo",
				Aliases:     []string{"f"},
				Usage:       "read input from `FIFO`, creating it if needed and re-opening it at end of stream",
				EnvVars:     []string{"PIPELOG_FIFO"},
				Destination: &fifo,
			},
			&cli.BoolFlag{
				Name:        "quiet",
				Aliases:     []string{"q"},
				Usage:       "don't print diagnostic messages",
				EnvVars:     []string{"PIPELOG_QUIET"},
				Destination: &quiet,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "verbose output (includes debug)",
				EnvVars:     []string{"PIPELOG_VERBOSE"},
				Destination: &verbose,
			},
			&cli.BoolFlag{
				Name:        "exit-on-write-error",
				Aliases:     []string{"e"},
				Usage:       "exit if writing to any output or re-opening a log file fails",
				Destination: &exitOnWriteError,
			},
			&cli.BoolFlag{
				Name:        "no-splice",
				Aliases:     []string{"S"},
				Usage:       "don't use the zero-copy fast path for a single output",
				Destination: &noSplice,
			},
			&cli.StringFlag{
				Name:        "log",
				Usage:       "also write diagnostic messages to `FILE` (rotated)",
				EnvVars:     []string{"PIPELOG_LOG"},
				Destination: &logPath,
			},
		},
		Before: func(_ *cli.Context) error {
			if verbose && quiet {
				return cli.Exit("verbose and quiet are mutually exclusive", 1)
			}

			logLevel := slog.LevelInfo
			if verbose {
				logLevel = slog.LevelDebug
			}

			handlers := []slog.Handler{}
			if !quiet {
				handlers = append(handlers, tint.NewHandler(os.Stderr, &tint.Options{
					Level:      logLevel,
					TimeFormat: time.TimeOnly,
					NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
				}))
			}
			if logPath != "" {
				handlers = append(handlers, slog.NewTextHandler(&lumberjack.Logger{
					Filename:   logPath,
					MaxSize:    5, // MB
					MaxBackups: 4,
					MaxAge:     30, // days
					Compress:   true,
				}, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				}))
			}
			slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)))

			return nil
		},
		Action: func(c *cli.Context) error {
			outputs, err := pipelog.ParseOutputs(c.Args().Slice())
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			cfg := pipelog.Config{
				Quiet:            quiet,
				ExitOnWriteError: exitOnWriteError,
				NoSplice:         noSplice,
			}

			if pidfile != "" {
				if err := pipelog.WritePidfile(pidfile); err != nil {
					return fmt.Errorf("writing pidfile: %w", err)
				}
				defer func() {
					if err := os.Remove(pidfile); err != nil {
						slog.Warn("Removing pidfile", "path", pidfile, "error", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var runErr error
			if fifo != "" {
				runErr = pipelog.RunFifo(ctx, fifo, outputs, cfg)
			} else {
				runErr = pipelog.Pipe(ctx, os.Stdin, outputs, cfg)
			}

			if errors.Is(runErr, pipelog.ErrInterrupted) {
				if isatty.IsTerminal(os.Stderr.Fd()) {
					fmt.Fprintln(os.Stderr) // don't mangle the prompt after ^C
				}
				if ctx.Err() != nil {
					return nil // graceful stop on SIGINT/SIGTERM
				}

				return cli.Exit("interrupted", 2)
			}
			if runErr != nil {
				return fmt.Errorf("piping: %w", runErr)
			}

			return nil
		},
	}

	return app.RunContext(ctx, os.Args) //nolint:wrapcheck
}
