package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. Packages call the helpers below
// instead of touching it directly so tests can swap the output.
var Logger = logrus.New()

// Config selects the log destination and verbosity.
type Config struct {
	LogPath  string
	LogLevel string
}

// PlainFormatter renders one line per entry, no fields.
type PlainFormatter struct{}

func (f *PlainFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("15:04:05 2006/01/02")
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	return []byte(fmt.Sprintf("[%s] [%s] %s\n", timestamp, level, entry.Message)), nil
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init wires the logger to stdout plus the configured file. An empty
// LogPath keeps stdout only.
func Init(cfg Config) error {
	Logger.SetFormatter(&PlainFormatter{})
	Logger.SetLevel(parseLogLevel(cfg.LogLevel))

	if cfg.LogPath == "" {
		Logger.SetOutput(os.Stdout)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}
