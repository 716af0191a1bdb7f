// Package logging sets up structured logging shared by every cmd/
// binary: logrus for the event API, lumberjack for rotation when a log
// file is configured. Grounded on firestige-Otus's internal/log
// (FileAppenderOpt/lumberjack.Logger wiring) and otus-packet/pkg/log's
// logrus.Logger wrapper.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures rotation for an optional on-disk log file.
// Zero value (empty Filename) means stderr-only logging.
type FileOptions struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// New builds a logrus.Logger at level, writing to stderr and, if
// opts.Filename is set, also to a rotating file.
func New(level logrus.Level, opts FileOptions) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if opts.Filename == "" {
		log.SetOutput(os.Stderr)
		return log
	}

	fileWriter := &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, fileWriter))
	return log
}
