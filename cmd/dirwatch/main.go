package main

import (
	"context"
	"dirwatch/internal/config"
	"dirwatch/internal/dispatcher"
	"dirwatch/internal/filter"
	"dirwatch/internal/signals"
	"dirwatch/internal/util/logger/handlers/slogpretty"
	"dirwatch/internal/util/logger/sl"
	"dirwatch/internal/watcher"
	"dirwatch/pkg/cli"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "dev"

const (
	exitOK    = 0
	exitError = 1
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], signals.NewOS(), os.Stdout, os.Stderr))
}

// run returns the process exit code: 0 after a graceful shutdown or
// help/version output, 1 on a configuration or argument error.
func run(ctx context.Context, args []string, sig signals.Subscriber, stdout, stderr io.Writer) int {
	opts := &options{}

	root := &cobra.Command{
		Use:          "dirwatch [path]",
		Short:        "Log file-system mutations under a directory",
		Long:         "Watch a directory tree and log every create, modify, delete and rename until interrupted.",
		Args:         cobra.MaximumNArgs(1),
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Flags(), opts, args)
			if err != nil {
				return err
			}
			return watch(cmd.Context(), cfg, sig, cmd.OutOrStdout())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetContext(ctx)
	bindFlags(root.PersistentFlags(), opts)

	app := cli.NewCLI(root)
	app.RegisterPlugin(&configCommand{opts: opts})

	if err := app.Run(args); err != nil {
		return exitError
	}
	return exitOK
}

type options struct {
	configPath  string
	env         string
	logLevel    string
	noRecursive bool
	ignore      []string
	showIgnored bool
	backend     string
}

func bindFlags(fs *pflag.FlagSet, opts *options) {
	fs.StringVarP(&opts.configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config file")
	fs.StringVar(&opts.env, "env", config.EnvLocal, "log output: local, dev or prod")
	fs.StringVar(&opts.logLevel, "log-level", "info", "lowest level logged: trace, debug, info, warn, error")
	fs.BoolVar(&opts.noRecursive, "no-recursive", false, "watch only the top directory")
	fs.StringArrayVarP(&opts.ignore, "ignore", "i", nil, "regular expression for paths to ignore (repeatable)")
	fs.BoolVar(&opts.showIgnored, "show-ignored", false, "log ignored events at info level, marked as ignored")
	fs.StringVar(&opts.backend, "backend", watcher.BackendAuto, "notification backend: auto, inotify (linux only) or fsnotify")
}

// resolveConfig layers flags over the config file and environment.
// Priority: flag > env > file > default. Ignore patterns from flags are
// appended after the configured ones.
func resolveConfig(fs *pflag.FlagSet, opts *options, args []string) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Path = args[0]
	}
	if fs.Changed("env") {
		cfg.Env = opts.env
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if fs.Changed("no-recursive") {
		cfg.NoRecursive = opts.noRecursive
	}
	if fs.Changed("ignore") {
		cfg.Ignore = append(cfg.Ignore, opts.ignore...)
	}
	if fs.Changed("show-ignored") {
		cfg.ShowIgnored = opts.showIgnored
	}
	if fs.Changed("backend") {
		cfg.Backend = opts.backend
	}

	if cfg.Path != "" {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, err
		}
		cfg.Path = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func watch(ctx context.Context, cfg *config.Config, sig signals.Subscriber, out io.Writer) error {
	log := setupLogger(cfg.Env, cfg.LogLevel, out)

	log.Info("starting dirwatch",
		slog.String("version", version),
		slog.String("env", cfg.Env),
	)
	log.Info("ignore configuration",
		slog.Any("patterns", cfg.Ignore),
		slog.Bool("show_ignored", cfg.ShowIgnored),
	)

	f, err := filter.New(cfg.Ignore)
	if err != nil {
		log.Error("invalid ignore pattern", sl.Err(err))
		return err
	}

	metrics := watcher.NewWatcherMetrics()
	src, err := watcher.NewSource(cfg.Backend, log, metrics)
	if err != nil {
		log.Error("failed to create watch backend", sl.Err(err))
		return err
	}
	lc := watcher.NewLifecycle(src, sig, log, metrics)
	d := dispatcher.New(f, cfg.ShowIgnored, dispatcher.NewSlogSink(log), log, metrics)

	if err := lc.Start(cfg.WatchOptions(), d); err != nil {
		log.Error("failed to start watcher", sl.Err(err))
		log.Info("program end", slog.Int("exit_code", exitError))
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			log.Info("context cancelled, stopping")
			_ = lc.Stop()
		case <-lc.Done():
		}
	}()

	lc.WaitUntilStopped()

	log.Info("program end",
		slog.Int("exit_code", exitOK),
		slog.Any("stats", metrics.GetStats()),
	)
	return nil
}

func setupLogger(env, level string, out io.Writer) *slog.Logger {
	lvl, err := sl.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}

	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = setupPrettySlog(lvl, out)
	case config.EnvDev, config.EnvProd:
		log = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       lvl,
			ReplaceAttr: sl.ReplaceLevelName,
		}))
	default:
		log = setupPrettySlog(lvl, out)
	}
	return log
}

func setupPrettySlog(lvl slog.Level, out io.Writer) *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: lvl,
		},
	}

	handler := opts.NewPrettyHandler(out)

	return slog.New(handler)
}
