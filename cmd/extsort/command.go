package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tonistiigi/extsort"
	"github.com/tonistiigi/extsort/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const (
	exitFatal       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// exitError carries an exit code for an error that was already logged.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

type options struct {
	configPath     string
	workers        int
	followSymlinks bool
	lowercase      bool
	sniff          bool
	preserveMode   bool
	sync           bool
	exclude        []string
	logLevel       string
	logFormat      string
	noColor        bool
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "extsort [flags] <source> <output>",
		Short: "Copy files into folders named after their extension",
		Long: `extsort walks <source> recursively and copies every regular file to
<output>/<extension>/<name>. Files without an extension go to
<output>/unknown. Files are copied concurrently; a file that fails to copy
is logged and does not stop the others.`,
		Args:          cobra.ExactArgs(2),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	flags.IntVar(&opts.workers, "workers", 0, "Maximum concurrent copies (0 = default, -1 = unbounded)")
	flags.BoolVar(&opts.followSymlinks, "follow-symlinks", true, "Copy the targets of symlinks that point to files")
	flags.BoolVar(&opts.lowercase, "lowercase", false, "Lowercase extensions when naming folders")
	flags.BoolVar(&opts.sniff, "sniff", false, "Detect a folder from content for files without an extension")
	flags.BoolVar(&opts.preserveMode, "preserve-mode", false, "Give copies the permission bits of their source")
	flags.BoolVar(&opts.sync, "sync", false, "Flush every copied file to disk")
	flags.StringArrayVar(&opts.exclude, "exclude", nil, "Exclude paths matching a pattern (repeatable)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	return cmd
}

// loadConfig merges the config file with the flags that were set explicitly.
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flags.Changed("follow-symlinks") {
		cfg.FollowSymlinks = opts.followSymlinks
	}
	if flags.Changed("lowercase") {
		cfg.Case = extsort.CasePreserve.String()
		if opts.lowercase {
			cfg.Case = extsort.CaseLower.String()
		}
	}
	if flags.Changed("preserve-mode") {
		cfg.PreserveMode = opts.preserveMode
	}
	if flags.Changed("sniff") {
		cfg.Sniff = opts.sniff
	}
	if flags.Changed("sync") {
		cfg.Sync = opts.sync
	}
	if flags.Changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, opts.exclude...)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if flags.Changed("no-color") {
		cfg.NoColor = opts.noColor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts options, src, dst string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	log := newLogger(cfg, cmd.ErrOrStderr())

	s := extsort.New(extsort.Opt{
		Workers:      cfg.Workers,
		Case:         cfg.CaseMode(),
		Sniff:        cfg.Sniff,
		PreserveMode: cfg.PreserveMode,
		Sync:         cfg.Sync,
		Walk: extsort.WalkOpt{
			ExcludePatterns: cfg.Exclude,
			SkipSymlinks:    !cfg.FollowSymlinks,
		},
		Log: logrus.NewEntry(log),
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	res, err := s.Run(ctx, src, dst)
	if err != nil {
		var ise *extsort.InvalidSourceError
		switch {
		case errors.As(err, &ise):
			log.WithError(ise.Err).WithField("path", ise.Path).Error("source folder is not a readable directory")
			return &exitError{code: exitFatal, err: err}
		case ctx.Err() != nil:
			log.WithError(err).Warn("interrupted")
			printSummary(cmd.OutOrStdout(), res, time.Since(start), cfg.NoColor)
			return &exitError{code: exitInterrupted, err: err}
		}
		log.WithError(err).Error("run failed")
		return &exitError{code: exitFatal, err: err}
	}
	log.WithFields(logrus.Fields{
		"copied":  res.Copied,
		"failed":  res.Failed,
		"skipped": res.Skipped,
	}).Debug("done")
	printSummary(cmd.OutOrStdout(), res, time.Since(start), cfg.NoColor)
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	lvl, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(lvl)

	if cfg.LogFormat == config.FormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return log
	}
	colors := !cfg.NoColor && isTerminal(w)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		ForceColors:     colors,
		DisableColors:   !colors,
	})
	return log
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printSummary(w io.Writer, res *extsort.Result, d time.Duration, noColor bool) {
	if res == nil {
		return
	}
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	dim := color.New(color.FgYellow)
	if noColor || !isTerminal(w) {
		ok.DisableColor()
		bad.DisableColor()
		dim.DisableColor()
	}

	fmt.Fprintf(w, "%s copied", ok.Sprint(res.Copied))
	if res.Failed > 0 {
		fmt.Fprintf(w, ", %s failed", bad.Sprint(res.Failed))
	}
	if res.WalkErrors > 0 {
		fmt.Fprintf(w, ", %s unreadable", bad.Sprint(res.WalkErrors))
	}
	if res.Skipped > 0 {
		fmt.Fprintf(w, ", %s skipped", dim.Sprint(res.Skipped))
	}
	fmt.Fprintf(w, " in %s\n", d.Round(time.Millisecond))
}
