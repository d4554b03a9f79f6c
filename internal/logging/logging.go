// Package logging builds the component loggers used by msync. Output goes
// to stderr, or to a size-rotated file when one is configured.
package logging

import (
	"bytes"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log sink.
type Options struct {
	File       string // Log file path; empty logs to stderr
	MaxSizeMB  int    // Rotate after this many megabytes (default 10)
	MaxBackups int    // Rotated files to keep (default 3)
	Verbose    bool   // Enable component debug loggers
}

// Sink is the shared destination of every component logger.
type Sink struct {
	w       io.Writer
	file    *lumberjack.Logger
	verbose bool
}

// Open returns a sink for opts. The file, if any, is created on first write.
func Open(opts Options) *Sink {
	s := &Sink{w: os.Stderr, verbose: opts.Verbose}
	if opts.File != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 10
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 3
		}
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		s.w = s.file
	}
	return s
}

// Logger returns a logger prefixed with "[component] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// Debug returns Logger(component) in verbose mode or when logging to a
// file. Otherwise it returns a logger that keeps only WARNING: lines, so
// chatty per-cycle components stay quiet without hiding their warnings.
func (s *Sink) Debug(component string) *log.Logger {
	if !s.verbose && s.file == nil {
		return log.New(warnOnly{s.w}, "["+component+"] ", log.LstdFlags)
	}
	return s.Logger(component)
}

// warnOnly forwards the log lines that carry a WARNING: marker.
type warnOnly struct{ w io.Writer }

func (f warnOnly) Write(p []byte) (int, error) {
	if !bytes.Contains(p, []byte("WARNING:")) {
		return len(p), nil
	}
	return f.w.Write(p)
}

// Writer returns the underlying destination.
func (s *Sink) Writer() io.Writer { return s.w }

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
