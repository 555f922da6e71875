// Package logger builds the converter's JSON logger and the entry helpers
// that tag records with job, format and frame context.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field names shared by every component, so log queries can filter on them.
const (
	FieldJob    = "job_id"
	FieldFormat = "format"
	FieldFile   = "file"
	FieldFrame  = "frame"
	FieldFrames = "frames"
	FieldSource = "source"
)

// Config controls the logger built by New.
type Config struct {
	Level string
	// Console mirrors records to stderr. Without a log file it is implied.
	Console bool
	File    FileConfig
}

// FileConfig describes the rotated log file. An empty Path disables it.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New returns a JSON logger writing to the rotated file and, when configured,
// to stderr.
func New(cfg Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	out, err := output(cfg)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	return l, nil
}

func output(cfg Config) (io.Writer, error) {
	if cfg.File.Path == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    cfg.File.MaxSizeMB,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAgeDays,
		Compress:   cfg.File.Compress,
	}
	if cfg.Console {
		return io.MultiWriter(file, os.Stderr), nil
	}
	return file, nil
}

// ForJob tags records with a conversion job.
func ForJob(l logrus.FieldLogger, jobID string) *logrus.Entry {
	return l.WithField(FieldJob, jobID)
}

// ForFormat tags records of one job with the format being produced and the
// output file it goes to.
func ForFormat(l logrus.FieldLogger, jobID, format, output string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		FieldJob:    jobID,
		FieldFormat: format,
		FieldFile:   output,
	})
}

// ForFrame tags records with a zero-based frame index, reported one-based as
// "frame" out of "frames", and the frame's source file.
func ForFrame(l logrus.FieldLogger, index, total int, source string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		FieldFrame:  index + 1,
		FieldFrames: total,
		FieldSource: source,
	})
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// DefaultConfig logs info and above to frame-converter.log and stderr.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Console: true,
		File: FileConfig{
			Path:       "frame-converter.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}
