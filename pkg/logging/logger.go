// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// File names written below Config.Directory.
const (
	ErrorLogFile = "error.log"
	AllLogFile   = "all.log"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Directory, when set, additionally receives JSON logs: error.log with
	// error level and above, all.log with info level and above.
	Directory string `yaml:"directory"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. The returned closer releases
// the log files opened for Config.Directory.
func Setup(cfg Config) (zerolog.Logger, io.Closer, error) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	writers := []io.Writer{out}
	files := fileCloser{}

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
		}
		for _, f := range []struct {
			name  string
			level zerolog.Level
		}{
			{ErrorLogFile, zerolog.ErrorLevel},
			{AllLogFile, zerolog.InfoLevel},
		} {
			file, err := os.OpenFile(filepath.Join(cfg.Directory, f.name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				files.Close()
				return zerolog.Nop(), nil, fmt.Errorf("open %s: %w", f.name, err)
			}
			files = append(files, file)
			writers = append(writers, &zerolog.FilteredLevelWriter{
				Writer: zerolog.LevelWriterAdapter{Writer: file},
				Level:  f.level,
			})
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	log.Logger = logger

	return logger, files, nil
}

type fileCloser []*os.File

func (fc fileCloser) Close() error {
	var errs []error
	for _, f := range fc {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-unit detail
//   - Job submit/admit/complete (dispatcher)
//   - Chunk and page events, skipped pages
//   - Cache hit/miss, conditional requests
//
// Info: one line per bulk call or lifecycle event
//   - Lookup/update/scan summaries (success, fail counts)
//   - Server startup/shutdown
//
// Warn: degraded but continuing
//   - Chunk or lane rejected by the CRM
//   - Credits low (throttling active)
//   - Cache errors (request goes to the CRM)
//
// Error: needs attention
//   - Critical credit blocks
//   - Transport failures
//   - Configuration errors
//
// Context Fields:
//   - component: package emitting the event
//   - module: CRM module
//   - job_id: dispatcher job id
//   - lane, page: pagination position
//   - endpoint, status: transport request
//   - error_class: client, server, rate_limit, network
//   - remaining: last reported CRM credits
