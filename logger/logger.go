// Package logger provides the process-wide logrus logger used by the store
// engine for format, open, and resumed-compaction diagnostics. The
// fuzz/replay harness and storedriver do not import it, and neither do
// format, storemodel, or buffer: those
// packages stay side-effect free so differential tests remain deterministic.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the package-wide logger instance. Nil-safe wrappers below allow
// calling the package functions before Init.
var Log *logrus.Logger

// CustomFormatter renders "[time] [LEVEL] (caller) message".
type CustomFormatter struct {
	TimestampFormat string
}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	msg := fmt.Sprintf("[%s] [%s] (%s) %s\n", timestamp, level, caller(), entry.Message)
	return []byte(msg), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "logger.go") {
			continue
		}
		fn := runtime.FuncForPC(pc)
		name := "unknown"
		if fn != nil {
			parts := strings.Split(fn.Name(), ".")
			name = parts[len(parts)-1]
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), name, line)
	}
	return "unknown:unknown:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "":
		return logrus.InfoLevel
	default:
		lv, err := logrus.ParseLevel(level)
		if err != nil {
			return logrus.InfoLevel
		}
		return lv
	}
}

// Init configures Log from the PSTORE_LOG_LEVEL environment variable,
// defaulting to info. Safe to call more than once.
func Init() {
	Log = logrus.New()
	Log.SetFormatter(&CustomFormatter{TimestampFormat: "15:04:05 2006/01/02"})
	Log.SetOutput(os.Stderr)
	Log.SetLevel(parseLevel(os.Getenv("PSTORE_LOG_LEVEL")))
}

func init() {
	Init()
}

func Debugf(format string, args ...interface{}) {
	if Log != nil {
		Log.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if Log != nil {
		Log.Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Log != nil {
		Log.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if Log != nil {
		Log.Errorf(format, args...)
	}
}
