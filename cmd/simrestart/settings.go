package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/davidahmann/simrestart/core/config"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/filenames"
	"github.com/davidahmann/simrestart/core/fsx"
	"github.com/davidahmann/simrestart/core/restart"
	"github.com/davidahmann/simrestart/core/telemetry"
)

// runFlags are the flags shared by every command that runs the restart
// protocol.
type runFlags struct {
	configPath      string
	checkpointIn    string
	checkpointOut   string
	logPath         string
	outputs         string
	multidir        string
	appendFlag      bool
	noAppendFlag    bool
	doublePrecision bool
	journalPath     string
	timeout         string
	logFormat       string
	logLevel        string
	jsonOutput      bool
	helpFlag        bool
}

func (f *runFlags) register(flagSet *flag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", config.DefaultPath, "path to simrestart config")
	flagSet.StringVar(&f.checkpointIn, "cpi", "", "checkpoint file to restart from")
	flagSet.StringVar(&f.checkpointOut, "cpo", "", "checkpoint file the run will write (defaults to --cpi)")
	flagSet.StringVar(&f.logPath, "log", "md.log", "log file of the run")
	flagSet.StringVar(&f.outputs, "out", "", "comma-separated output files besides the log")
	flagSet.StringVar(&f.multidir, "multidir", "", "comma-separated run directory of each simulation")
	flagSet.BoolVar(&f.appendFlag, "append", false, "require continuing the previous output files")
	flagSet.BoolVar(&f.noAppendFlag, "noappend", false, "never continue previous output files")
	flagSet.BoolVar(&f.doublePrecision, "double", false, "this build uses double precision")
	flagSet.StringVar(&f.journalPath, "journal", "", "append restart outcomes to this jsonl file")
	flagSet.StringVar(&f.timeout, "timeout", "", "abort if the ranks do not agree within this duration")
	flagSet.StringVar(&f.logFormat, "log-format", "", "diagnostic log format: json or text")
	flagSet.StringVar(&f.logLevel, "log-level", "", "diagnostic log level: debug, info, warn or error")
	flagSet.BoolVar(&f.jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&f.helpFlag, "help", false, "show help")
}

// runSettings is the resolved configuration of one protocol run after the
// config file, environment and flags were merged.
type runSettings struct {
	appending       restart.AppendingBehavior
	doublePrecision bool
	journalPath     string
	timeout         time.Duration
	platform        fsx.Capabilities
	config          config.Config
	flags           runFlags
}

func explicitFlags(flagSet *flag.FlagSet) map[string]bool {
	explicit := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})
	return explicit
}

func resolveRunSettings(flagSet *flag.FlagSet, flags runFlags) (runSettings, error) {
	explicit := explicitFlags(flagSet)
	configuration, err := config.Load(flags.configPath, !explicit["config"])
	if err != nil {
		return runSettings{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "fix the config file or environment overrides", false)
	}

	settings := runSettings{config: configuration, flags: flags}
	if flags.appendFlag && flags.noAppendFlag {
		return runSettings{}, coreerrors.Newf(coreerrors.CategoryInvalidInput, "invalid_input", "", "--append and --noappend are mutually exclusive")
	}
	switch {
	case flags.appendFlag:
		settings.appending = restart.Appending
	case flags.noAppendFlag:
		settings.appending = restart.NoAppending
	default:
		settings.appending, err = restart.ParseAppendingBehavior(configuration.Restart.Appending)
		if err != nil {
			return runSettings{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "", false)
		}
	}

	settings.doublePrecision = configuration.Restart.DoublePrecision
	if explicit["double"] {
		settings.doublePrecision = flags.doublePrecision
	}
	settings.journalPath = configuration.Restart.JournalPath
	if explicit["journal"] {
		settings.journalPath = strings.TrimSpace(flags.journalPath)
	}

	settings.timeout, err = configuration.CollectiveTimeout()
	if err != nil {
		return runSettings{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "", false)
	}
	if explicit["timeout"] {
		settings.timeout, err = time.ParseDuration(strings.TrimSpace(flags.timeout))
		if err != nil || settings.timeout < 0 {
			return runSettings{}, coreerrors.Newf(coreerrors.CategoryInvalidInput, "invalid_input", "", "--timeout must be a non-negative duration, got %q", flags.timeout)
		}
	}

	settings.platform = fsx.HostCapabilities()
	if configuration.Restart.SkipFileChecks {
		settings.platform.CheckFiles = false
	}
	if configuration.Restart.SkipTruncation {
		settings.platform.TruncateFiles = false
	}
	if explicit["log-format"] {
		settings.config.Logging.Format = strings.ToLower(strings.TrimSpace(flags.logFormat))
	}
	if explicit["log-level"] {
		settings.config.Logging.Level = strings.ToLower(strings.TrimSpace(flags.logLevel))
	}
	if err := settings.config.Validate(); err != nil {
		return runSettings{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_input", "", false)
	}
	setCurrentCorrelationID(runCorrelationID(flags))
	return settings, nil
}

// files declares the files of simulation simIndex. With --multidir every
// relative path is resolved inside that simulation's directory.
func (s runSettings) files(simIndex int) (filenames.Set, error) {
	dir := ""
	if dirs := splitCSV(s.flags.multidir); len(dirs) > 0 {
		if simIndex >= len(dirs) {
			return filenames.Set{}, coreerrors.Newf(coreerrors.CategoryInvalidInput, "invalid_input", "",
				"--multidir lists %d directories but simulation %d was requested", len(dirs), simIndex)
		}
		dir = dirs[simIndex]
	}
	resolve := func(path string) string {
		if dir == "" || path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(dir, path)
	}

	checkpointIn := strings.TrimSpace(s.flags.checkpointIn)
	checkpointOut := strings.TrimSpace(s.flags.checkpointOut)
	if checkpointOut == "" {
		checkpointOut = checkpointIn
	}
	logPath := strings.TrimSpace(s.flags.logPath)
	if !filenames.HasLogExtension(logPath) {
		return filenames.Set{}, coreerrors.Newf(coreerrors.CategoryInvalidInput, "invalid_input", "",
			"--log must name a file with extension %s, got %q", filenames.LogExtension, logPath)
	}

	declared := []filenames.File{
		{Option: filenames.CheckpointInputOption, Path: resolve(checkpointIn), Set: checkpointIn != ""},
		{Option: filenames.LogOption, Path: resolve(logPath), Output: true, Set: true},
	}
	if checkpointOut != "" {
		declared = append(declared, filenames.File{Option: filenames.CheckpointOutputOption, Path: resolve(checkpointOut), Output: true, Set: true})
	}
	for index, output := range splitCSV(s.flags.outputs) {
		declared = append(declared, filenames.File{Option: fmt.Sprintf("-out%d", index+1), Path: resolve(output), Output: true, Set: true})
	}
	return filenames.NewSet(declared...), nil
}

func (s runSettings) context() (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(context.Background(), s.timeout)
	}
	return context.WithCancel(context.Background())
}

func newLogger(configuration config.Config, command string, w io.Writer) *slog.Logger {
	options := &slog.HandlerOptions{Level: logLevel(configuration.Logging.Level)}
	var handler slog.Handler
	if configuration.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	logger := slog.New(handler).With("service", "simrestart", "version", version, "command", command)
	if correlationID := currentCorrelationID(); correlationID != "" {
		logger = logger.With("correlation_id", correlationID)
	}
	return logger
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupTracing installs the OTLP exporter when configured and returns its
// shutdown function.
func setupTracing(configuration config.Config, logger *slog.Logger) func() {
	shutdown, err := telemetry.Setup(context.Background(), "simrestart", telemetry.Options{
		Enabled:  configuration.TracingEnabled(),
		Endpoint: configuration.Telemetry.Endpoint,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err.Error())
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err.Error())
		}
	}
}
