package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doridoridoriand/skymonitor/internal/archive"
	"github.com/doridoridoriand/skymonitor/internal/bucket"
	"github.com/doridoridoriand/skymonitor/internal/cli"
	"github.com/doridoridoriand/skymonitor/internal/config"
	"github.com/doridoridoriand/skymonitor/internal/console"
	"github.com/doridoridoriand/skymonitor/internal/lifecycle"
	"github.com/doridoridoriand/skymonitor/internal/log"
	"github.com/doridoridoriand/skymonitor/internal/probe"
	"github.com/doridoridoriand/skymonitor/internal/scheduler"
	"github.com/doridoridoriand/skymonitor/internal/state"
	"github.com/doridoridoriand/skymonitor/internal/statuslog"
)

const version = "0.1.0"

type flags struct {
	services           cli.OptionalString
	loggingDir         cli.OptionalString
	timestampDir       cli.OptionalString
	archiveDir         cli.OptionalString
	serverTimeout      cli.OptionalDuration
	applicationTimeout cli.OptionalDuration
	minWorkers         cli.OptionalInt
	logLevel           cli.OptionalString
	logFormat          cli.OptionalLogFormat
	autostart          cli.OptionalBool
	version            bool
}

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "skymonitor [flags] [services-file]",
		Short:         "Probe services and keep bucketed status logs",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.version {
				fmt.Fprintf(out, "skymonitor version %s\n", version)
				return nil
			}

			overrides := buildOverrides(f)
			if len(args) == 1 {
				path := args[0]
				overrides.ServicesFile = &path
			}
			opts := config.ApplyOverrides(config.DefaultOptions(), overrides)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			if err := run(ctx, opts, in, out, errOut); err != nil {
				fmt.Fprintf(errOut, "skymonitor: %v\n", err)
				return err
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.VarP(&f.services, "services", "s", "service source file (.csv, .json, .xml, .yaml, .ini)")
	fs.Var(&f.loggingDir, "logging-dir", "root directory of status logs")
	fs.Var(&f.timestampDir, "timestamp-dir", "directory of bucket timestamp mirrors")
	fs.Var(&f.archiveDir, "archive-dir", "root directory of archiving working directories")
	fs.Var(&f.serverTimeout, "server-timeout", "TCP connect timeout of server probes")
	fs.Var(&f.applicationTimeout, "application-timeout", "HTTPS timeout of application probes")
	fs.Var(&f.minWorkers, "min-workers", "minimum size of the tick worker pool")
	fs.Var(&f.logLevel, "log-level", "diagnostic log level: debug|info|warn|error")
	fs.Var(&f.logFormat, "log-format", "diagnostic log format: json|console")
	fs.Var(&f.autostart, "autostart", "start monitoring without waiting for a command")
	fs.Lookup("autostart").NoOptDefVal = "true"
	fs.BoolVarP(&f.version, "version", "v", false, "show version")

	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd
}

func run(ctx context.Context, opts config.Options, in io.Reader, out, errOut io.Writer) error {
	logger := log.New(log.ParseLevel(opts.LogLevel), log.Format(opts.LogFormat), errOut)
	defer func() { _ = logger.Sync() }()

	services, err := config.ServiceParser{}.LoadServices(opts.ServicesFile)
	logger.LogConfigLoad(err == nil, opts.ServicesFile, len(services), err)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}

	prober, err := probe.NewNetProber(opts.ServerTimeout, opts.ApplicationTimeout)
	if err != nil {
		return fmt.Errorf("create prober: %w", err)
	}
	ctrl := newController(opts, prober, logger, out)

	if opts.Autostart {
		if err := ctrl.Start(ctx, services); err != nil && !errors.Is(err, lifecycle.ErrAlreadyActive) {
			return err
		}
	}

	var consoleOpts []console.Option
	if opts.Autostart {
		consoleOpts = append(consoleOpts, console.WithDetachOnEOF())
	}
	done := make(chan error, 1)
	go func() {
		done <- console.New(ctrl, services, out, logger.Named("console"), consoleOpts...).Run(ctx, in)
	}()

	var runErr error
	select {
	case runErr = <-done:
		switch {
		case errors.Is(runErr, console.ErrDetached):
			<-ctx.Done()
			logger.Info("shutdown signal received", nil)
			runErr = nil
		case errors.Is(runErr, context.Canceled):
			runErr = nil
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	}
	if ctrl.Active() {
		if err := ctrl.Stop(context.Background()); err != nil && !errors.Is(err, lifecycle.ErrNotActive) {
			return err
		}
	}
	return runErr
}

func newController(opts config.Options, prober probe.Prober, logger *log.Logger, out io.Writer) *lifecycle.Controller {
	store := state.NewStore(nil)
	clock := bucket.NewClock(opts.TimestampDir, bucket.WithLogger(logger.Named("bucket")))
	sched := scheduler.NewScheduler(scheduler.Options{
		LoggingDir: opts.LoggingDir,
		ArchiveDir: opts.ArchiveDir,
		MinWorkers: opts.MinWorkers,
	}, prober, statuslog.NewRecorder(clock, nil), archive.NewArchiver(nil, logger.Named("archive")), store, logger.Named("scheduler"))

	return lifecycle.NewController(lifecycle.Options{
		LoggingDir: opts.LoggingDir,
		ArchiveDir: opts.ArchiveDir,
	}, sched, prober, store, out, logger.Named("lifecycle"))
}

func buildOverrides(f flags) config.CLIOverrides {
	overrides := config.CLIOverrides{}

	if v, ok := f.services.Value(); ok && v != "" {
		value := v
		overrides.ServicesFile = &value
	}
	if v, ok := f.loggingDir.Value(); ok && v != "" {
		value := v
		overrides.LoggingDir = &value
	}
	if v, ok := f.timestampDir.Value(); ok && v != "" {
		value := v
		overrides.TimestampDir = &value
	}
	if v, ok := f.archiveDir.Value(); ok && v != "" {
		value := v
		overrides.ArchiveDir = &value
	}
	if v, ok := f.serverTimeout.Value(); ok {
		value := v
		overrides.ServerTimeout = &value
	}
	if v, ok := f.applicationTimeout.Value(); ok {
		value := v
		overrides.ApplicationTimeout = &value
	}
	if v, ok := f.minWorkers.Value(); ok {
		value := v
		overrides.MinWorkers = &value
	}
	if v, ok := f.logLevel.Value(); ok && v != "" {
		value := v
		overrides.LogLevel = &value
	}
	if v, ok := f.logFormat.Value(); ok {
		value := v
		overrides.LogFormat = &value
	}
	if v, ok := f.autostart.Value(); ok {
		value := v
		overrides.Autostart = &value
	}

	return overrides
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
