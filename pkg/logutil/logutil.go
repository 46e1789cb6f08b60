// Package logutil configures the logrus standard logger and optionally
// mirrors every entry to a file.
package logutil

import (
	"os"
	"strings"

	joonix "github.com/joonix/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var _ = logrus.Hook(&WriterHook{})

// WriterHook is a hook that writes logs of specified LogLevels to the file logger.
type WriterHook struct {
	LogLevels []logrus.Level
	Logger    *logrus.Logger
}

// Fire formats the entry with the file logger's formatter and writes it.
func (hook *WriterHook) Fire(entry *logrus.Entry) error {
	line, err := hook.Logger.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = hook.Logger.Out.Write(line)
	return err
}

// Levels defines on which log levels this hook would trigger.
func (hook *WriterHook) Levels() []logrus.Level {
	return hook.LogLevels
}

// Formatter returns the formatter registered under name
func Formatter(name string, colors bool) (logrus.Formatter, error) {
	switch strings.ToLower(name) {
	case "text", "":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		formatter.DisableColors = !colors
		return formatter, nil
	case "fluentd":
		return joonix.NewFormatter(), nil
	case "json":
		return &logrus.JSONFormatter{}, nil
	default:
		return nil, errors.Errorf("unknown log format %v", name)
	}
}

// Configure sets the level and format of the standard logger
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	formatter, err := Formatter(format, true)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(formatter)
	return nil
}

// ConfigurePersistentLogging adds a writer hook that appends every log
// entry to logFileName.
func ConfigurePersistentLogging(logFileName string, logFileFormatName string) error {
	logrus.WithField("logFileName", logFileName).Info("Logs will be made persistent")
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	// the colors are ANSI codes and seen as gibberish in log files
	formatter, err := Formatter(logFileFormatName, false)
	if err != nil {
		_ = f.Close()
		return err
	}
	fileLogger := &logrus.Logger{
		Out:       f,
		Formatter: formatter,
		Level:     logrus.TraceLevel,
	}

	logrus.AddHook(&WriterHook{
		LogLevels: logrus.AllLevels,
		Logger:    fileLogger,
	})
	logrus.Info("File logger initialized")
	return nil
}
