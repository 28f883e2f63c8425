package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/nexmodem/qcore/modem"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	var options Options
	parser := flags.NewParser(&options, flags.Default)
	if _, err := parser.ParseArgs(os.Args); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := newLogger(options)

	state, err := options.initialStateValue()
	if err != nil {
		logger.Error("bad --initial-state", "error", err)
		os.Exit(1)
	}
	if state == stateRemoved {
		logger.Info("initial-state removed, nothing to do")
		return
	}

	sink := newStdoutSink(logger)
	defer sink.close()

	modemConfig, err := options.modemConfig()
	if err != nil {
		logger.Error("bad modem configuration", "error", err)
		os.Exit(1)
	}
	modemConfig.Logger = logger
	modemConfig.Sink = sink

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("failed to dial modem", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		m.Close()
	}()

	if state == stateStarted {
		go func() {
			if err := m.Loop(ctx); err != nil && ctx.Err() == nil {
				logger.Error("modem loop exited", "error", err)
			}
		}()
	}

	runCommandLoop(ctx, os.Stdin, m, logger)
}

// newLogger builds the root *slog.Logger, optionally rotating through a
// file with lumberjack the way xx25-nodelistdb's own logging package
// does for its daemon logs.
func newLogger(options Options) *slog.Logger {
	level := slog.LevelInfo
	if len(options.Verbose) > 0 {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if options.LogFile != "" {
		out = &lumberjack.Logger{
			Filename: options.LogFile,
			MaxSize:  options.LogMaxSize,
			MaxAge:   options.LogMaxAge,
			Compress: true,
		}
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}
