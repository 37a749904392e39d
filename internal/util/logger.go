// Package util provides logging setup and host metadata shared by the
// battlewire binaries.
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

const logFilePrefix = "battlewire_"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
	Role       string `json:"role"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with file and console
// output. An empty Directory disables the file writer.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	logFilePath := ""

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}

		logFilePath = filepath.Join(cfg.Directory, LogFileName(cfg.Role, time.Now()))
		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		writers = append(writers, logFile)
	}

	if cfg.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "battlewire")
	if cfg.Role != "" {
		ctx = ctx.Str("role", cfg.Role)
	}
	log.Logger = ctx.Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	if cfg.Directory != "" {
		go func() {
			for _, path := range PruneLogs(cfg.Directory, cfg.MaxBackups) {
				log.Debug().Str("file", path).Msg("removed old log file")
			}
		}()
	}

	return nil
}

// LogFileName returns the dated log file name for a role. Running a server
// and a client from one directory keeps their logs apart.
func LogFileName(role string, at time.Time) string {
	if role == "" {
		return fmt.Sprintf("%s%s.log", logFilePrefix, at.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s%s_%s.log", logFilePrefix, role, at.Format("2006-01-02"))
}

// PruneLogs removes the oldest battlewire log files beyond maxBackups and
// returns the removed paths. The dated names sort chronologically.
func PruneLogs(directory string, maxBackups int) []string {
	entries, err := os.ReadDir(directory)
	if err != nil || maxBackups < 0 {
		return nil
	}

	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, logFilePrefix) && filepath.Ext(name) == ".log" {
			logFiles = append(logFiles, name)
		}
	}
	if len(logFiles) <= maxBackups {
		return nil
	}

	sort.Slice(logFiles, func(i, j int) bool {
		return datePart(logFiles[i]) < datePart(logFiles[j])
	})

	var removed []string
	for _, name := range logFiles[:len(logFiles)-maxBackups] {
		path := filepath.Join(directory, name)
		if err := os.Remove(path); err == nil {
			removed = append(removed, path)
		}
	}
	return removed
}

func datePart(name string) string {
	name = strings.TrimSuffix(name, ".log")
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		return name[i+1:] + name
	}
	return name
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
