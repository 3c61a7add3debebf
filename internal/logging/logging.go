// Package logging configures the logrus logger shared by the engine and its
// command line front ends.
//
// Every process run writes to a fresh file named log-<unix millis>.txt in the
// log directory. At most MaxLogFiles files are kept; the oldest are removed
// when a new run starts.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxLogFiles is the number of run logs kept on disk, including the new one.
const MaxLogFiles = 10

// Options controls Setup.
type Options struct {
	// Dir receives the log files. Required.
	Dir string

	// Level defaults to logrus.InfoLevel.
	Level logrus.Level

	// Mirror, when set, additionally receives human-readable text logs.
	Mirror io.Writer
}

// Setup prunes old log files and returns a logger writing JSON lines to a new
// file in opts.Dir. The returned close function flushes and closes the file.
func Setup(opts Options) (*logrus.Logger, func() error, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}

	// Pruning is best effort; a stale log never blocks startup.
	_ = Prune(opts.Dir, MaxLogFiles-1)

	name := fmt.Sprintf("log-%d.txt", time.Now().UnixMilli())
	file, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("creating log file: %w", err)
	}

	level := opts.Level
	if level == 0 {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(file)
	logger.SetLevel(level)

	if opts.Mirror != nil {
		logger.AddHook(&mirrorHook{
			out:       opts.Mirror,
			formatter: &logrus.TextFormatter{DisableTimestamp: true},
		})
	}

	return logger, file.Close, nil
}

// Discard returns a logger that drops everything. Tests and library callers
// that do not care about diagnostics use it.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Prune removes the oldest log-*.txt files in dir so that at most keep remain.
func Prune(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type logFile struct {
		path    string
		modTime time.Time
	}

	var logs []logFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "log-") || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		logs = append(logs, logFile{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}

	if len(logs) <= keep {
		return nil
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].modTime.Before(logs[j].modTime) })

	var firstErr error
	for _, l := range logs[:len(logs)-keep] {
		if err := os.Remove(l.path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mirrorHook copies entries to a second writer using its own formatter.
type mirrorHook struct {
	out       io.Writer
	formatter logrus.Formatter
}

func (h *mirrorHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *mirrorHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.out.Write(line)
	return err
}
