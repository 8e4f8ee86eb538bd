package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger is the process log for long-running commands such as the stub
// backend. Entries are JSON lines appended to a file and mirrored to an
// optional extra writer (stderr in the binaries).
type Logger struct {
	*logrus.Logger
	file *os.File
}

// New opens (or creates) the log file at path.
func New(path string, mirror io.Writer) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.InfoLevel)
	if mirror != nil {
		base.SetOutput(io.MultiWriter(f, mirror))
	} else {
		base.SetOutput(f)
	}
	return &Logger{Logger: base, file: f}, nil
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Logger: base}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
