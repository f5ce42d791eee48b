package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
	if cfg.Directory != "" {
		t.Errorf("Expected no default directory, got %q", cfg.Directory)
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		level  LogLevel
		pretty bool
		msg    string
	}{
		{"json_debug", LevelDebug, false, "test debug message"},
		{"json_info", LevelInfo, false, "test info message"},
		{"pretty_warn", LevelWarn, true, "test warn message"},
		{"json_error", LevelError, false, "test error message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger, closer, err := Setup(Config{Level: tt.level, Pretty: tt.pretty, Output: buf})
			if err != nil {
				t.Fatalf("Setup() error = %v", err)
			}
			defer closer.Close()

			switch tt.level {
			case LevelDebug:
				logger.Debug().Msg(tt.msg)
			case LevelInfo:
				logger.Info().Msg(tt.msg)
			case LevelWarn:
				logger.Warn().Msg(tt.msg)
			case LevelError:
				logger.Error().Msg(tt.msg)
			}

			if !strings.Contains(buf.String(), tt.msg) {
				t.Errorf("Expected output to contain %q, got %q", tt.msg, buf.String())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	_, closer, err := Setup(Config{Level: LevelInfo, Output: buf})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer closer.Close()

	logger := NewLogger("test-component")
	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "test-component") {
		t.Errorf("Expected output to contain 'test-component', got %q", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	_, closer, err := Setup(Config{Level: LevelWarn, Output: buf})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer closer.Close()

	logger := NewLogger("test")
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("Messages below warn should be filtered, got %q", output)
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Errorf("Messages at warn and above should be kept, got %q", output)
	}
}

func TestSetup_Directory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	buf := &bytes.Buffer{}

	logger, closer, err := Setup(Config{Level: LevelDebug, Output: buf, Directory: dir})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	logger.Debug().Msg("debug line")
	logger.Info().Msg("info line")
	logger.Error().Msg("error line")

	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", name, err)
		}
		return string(data)
	}

	all := read(AllLogFile)
	if strings.Contains(all, "debug line") {
		t.Errorf("%s should not contain debug lines: %q", AllLogFile, all)
	}
	if !strings.Contains(all, "info line") || !strings.Contains(all, "error line") {
		t.Errorf("%s = %q, want info and error lines", AllLogFile, all)
	}

	errs := read(ErrorLogFile)
	if strings.Contains(errs, "info line") || !strings.Contains(errs, "error line") {
		t.Errorf("%s = %q, want only the error line", ErrorLogFile, errs)
	}

	if !strings.Contains(buf.String(), "debug line") {
		t.Errorf("console output = %q, want the debug line", buf.String())
	}
}
