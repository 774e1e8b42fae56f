package logger

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxAgeDays = 7
	defaultMaxBackups = 3
)

type options struct {
	out        io.Writer
	format     string
	file       string
	maxSizeMB  int
	maxAgeDays int
	maxBackups int
}

func defaultOptions() options {
	return options{
		out:        os.Stdout,
		format:     "text",
		maxSizeMB:  defaultMaxSizeMB,
		maxAgeDays: defaultMaxAgeDays,
		maxBackups: defaultMaxBackups,
	}
}

// Option configures Init.
type Option func(*options)

// WithOutput replaces stdout as the primary sink.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.out = w
		}
	}
}

// WithFormat selects "text" or "json" output.
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithFile mirrors log output into a size-rotated file.
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// WithRotation overrides the rotation limits of the file sink.
func WithRotation(maxSizeMB, maxAgeDays, maxBackups int) Option {
	return func(o *options) {
		if maxSizeMB > 0 {
			o.maxSizeMB = maxSizeMB
		}
		if maxAgeDays > 0 {
			o.maxAgeDays = maxAgeDays
		}
		if maxBackups > 0 {
			o.maxBackups = maxBackups
		}
	}
}

func newFileSink(o options) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   o.file,
		MaxSize:    o.maxSizeMB,
		MaxAge:     o.maxAgeDays,
		MaxBackups: o.maxBackups,
		LocalTime:  true,
		Compress:   true,
	}
}
