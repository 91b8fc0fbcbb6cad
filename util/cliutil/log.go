package cliutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogOptions struct {
	// info|debug|warn|error
	LogLevel string
	// text|json
	LogFormat string
	// path to write to; "" or "-" for stdout
	LogPath string
}

func firstenv(env_var_names ...string) string {
	for _, env_var_name := range env_var_names {
		val := os.Getenv(env_var_name)
		if val != "" {
			return val
		}
	}
	return ""
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %#v", s)
}

// SetupSlog integrates passed in options and env vars, and sets the resulting logger as the slog default.
//
// passing default cliutil.LogOptions{} is ok.
//
// CHATMOD_LOG_LEVEL=info|debug|warn|error
//
// CHATMOD_LOG_FMT=text|json
//
// CHATMOD_LOG_FILE=path (or "-" or "" for stdout)
//
// The GOLOG_ equivalents are respected as a fallback.
func SetupSlog(options LogOptions) (*slog.Logger, error) {
	if options.LogLevel == "" {
		options.LogLevel = firstenv("CHATMOD_LOG_LEVEL", "GOLOG_LOG_LEVEL")
	}
	level, err := parseLevel(options.LogLevel)
	if err != nil {
		return nil, err
	}

	if options.LogFormat == "" {
		options.LogFormat = firstenv("CHATMOD_LOG_FMT", "GOLOG_LOG_FMT")
	}
	format := strings.ToLower(options.LogFormat)
	if format == "" {
		format = "text"
	}

	if options.LogPath == "" {
		options.LogPath = firstenv("CHATMOD_LOG_FILE", "GOLOG_FILE")
	}
	var out io.Writer = os.Stdout
	if options.LogPath != "" && options.LogPath != "-" {
		f, err := os.OpenFile(options.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", options.LogPath, err)
		}
		out = f
	}

	hopts := slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(out, &hopts)
	case "json":
		handler = slog.NewJSONHandler(out, &hopts)
	default:
		return nil, fmt.Errorf("invalid log format: %#v", options.LogFormat)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
