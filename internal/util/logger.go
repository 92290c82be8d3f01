// Package util provides logging, host information and TLS helpers shared
// by the fragline binary.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppName tags every log line and names the log files.
const AppName = "fragline"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 7,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with file and console output.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFilePath := filepath.Join(cfg.Directory, logFileName(time.Now()))
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	// JSON to the file, human-readable on the console
	writers := []io.Writer{logFile}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", AppName).
		Caller().
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go cleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

func logFileName(day time.Time) string {
	return fmt.Sprintf("%s_%s.log", AppName, day.Format("2006-01-02"))
}

// cleanOldLogs keeps the newest maxBackups log files of this application.
// The date in the file name sorts lexically.
func cleanOldLogs(directory string, maxBackups int) []string {
	if maxBackups <= 0 {
		return nil
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, AppName+"_") && filepath.Ext(name) == ".log" {
			names = append(names, name)
		}
	}
	if len(names) <= maxBackups {
		return nil
	}
	sort.Strings(names)

	var removed []string
	for _, name := range names[:len(names)-maxBackups] {
		path := filepath.Join(directory, name)
		if err := os.Remove(path); err == nil {
			removed = append(removed, name)
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
	return removed
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
