package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds configuration options for a logger object.
type Config struct {
	LogLevel     string            `yaml:"level"`
	Format       string            `yaml:"format"`
	AddTimeStamp bool              `yaml:"add_timestamp"`
	StaticFields map[string]string `yaml:"static_fields"`
	File         FileConfig        `yaml:"file"`
}

// FileConfig describes an optional file destination for logs.
type FileConfig struct {
	Path         string `yaml:"path"`
	Rotate       bool   `yaml:"rotate"`
	RotateMaxAge int    `yaml:"rotate_max_age_days"`
}

// NewConfig returns a config struct with the default values for each field.
func NewConfig() Config {
	return Config{
		LogLevel: "INFO",
		Format:   "logfmt",
		StaticFields: map[string]string{
			"@service": "benchcore",
		},
	}
}

//------------------------------------------------------------------------------

// Logger is a Modular implementation backed by logrus.
type Logger struct {
	entry *logrus.Entry
}

func parseLevel(level string) (logrus.Level, bool, error) {
	switch strings.ToUpper(level) {
	case "OFF", "NONE":
		return logrus.PanicLevel, true, nil
	case "FATAL":
		return logrus.FatalLevel, false, nil
	case "ERROR":
		return logrus.ErrorLevel, false, nil
	case "WARN", "WARNING":
		return logrus.WarnLevel, false, nil
	case "INFO":
		return logrus.InfoLevel, false, nil
	case "DEBUG":
		return logrus.DebugLevel, false, nil
	case "TRACE", "ALL":
		return logrus.TraceLevel, false, nil
	}
	return 0, false, fmt.Errorf("log level '%v' not recognised", level)
}

// New returns a new logger writing to stream from a config, or returns an
// error if the config is invalid.
func New(stream io.Writer, conf Config) (Modular, error) {
	level, off, err := parseLevel(conf.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	if off {
		logger.SetOutput(io.Discard)
	} else {
		logger.SetOutput(stream)
	}

	switch conf.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			DisableTimestamp: !conf.AddTimeStamp,
			TimestampFormat:  time.RFC3339,
		})
	case "logfmt":
		logger.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: !conf.AddTimeStamp,
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			DisableColors:    true,
		})
	default:
		return nil, fmt.Errorf("log format '%v' not recognised", conf.Format)
	}

	fields := make(logrus.Fields, len(conf.StaticFields))
	for k, v := range conf.StaticFields {
		fields[k] = v
	}
	return &Logger{entry: logger.WithFields(fields)}, nil
}

// NewFromConfig creates a logger writing to the file described by the config,
// or to fallback when no file path is set. Rotation is delegated to
// lumberjack.
func NewFromConfig(conf Config, fallback io.Writer) (Modular, error) {
	if conf.File.Path == "" {
		return New(fallback, conf)
	}
	var writer io.Writer
	if conf.File.Rotate {
		writer = &lumberjack.Logger{
			Filename:   conf.File.Path,
			MaxSize:    10,
			MaxAge:     conf.File.RotateMaxAge,
			MaxBackups: 1,
			Compress:   true,
		}
	} else {
		f, err := os.OpenFile(conf.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = f
	}
	return New(writer, conf)
}

// Noop creates and returns a new logger object that writes nothing.
func Noop() Modular {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return &Logger{entry: logrus.NewEntry(logger)}
}

//------------------------------------------------------------------------------

// WithFields returns a logger with new fields added to the output.
func (l *Logger) WithFields(fields map[string]string) Modular {
	lf := make(logrus.Fields, len(fields))
	for k, v := range fields {
		lf[k] = v
	}
	return &Logger{entry: l.entry.WithFields(lf)}
}

// With returns a copy of the logger with new key/value pairs added to the
// logging context. Pairs with a non-string key are skipped.
func (l *Logger) With(keyValues ...any) Modular {
	lf := logrus.Fields{}
	for i := 0; i < (len(keyValues) - 1); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		lf[key] = keyValues[i+1]
	}
	return &Logger{entry: l.entry.WithFields(lf)}
}

func (l *Logger) logf(level logrus.Level, format string, v ...any) {
	if !l.entry.Logger.IsLevelEnabled(level) {
		return
	}
	l.entry.Log(level, strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

// Errorf prints an error message.
func (l *Logger) Errorf(format string, v ...any) { l.logf(logrus.ErrorLevel, format, v...) }

// Warnf prints a warning message.
func (l *Logger) Warnf(format string, v ...any) { l.logf(logrus.WarnLevel, format, v...) }

// Infof prints an information message.
func (l *Logger) Infof(format string, v ...any) { l.logf(logrus.InfoLevel, format, v...) }

// Debugf prints a debug message.
func (l *Logger) Debugf(format string, v ...any) { l.logf(logrus.DebugLevel, format, v...) }

// Tracef prints a trace message.
func (l *Logger) Tracef(format string, v ...any) { l.logf(logrus.TraceLevel, format, v...) }

// Errorln prints an error message.
func (l *Logger) Errorln(message string) { l.logf(logrus.ErrorLevel, "%s", message) }

// Warnln prints a warning message.
func (l *Logger) Warnln(message string) { l.logf(logrus.WarnLevel, "%s", message) }

// Infoln prints an information message.
func (l *Logger) Infoln(message string) { l.logf(logrus.InfoLevel, "%s", message) }

// Debugln prints a debug message.
func (l *Logger) Debugln(message string) { l.logf(logrus.DebugLevel, "%s", message) }

// Traceln prints a trace message.
func (l *Logger) Traceln(message string) { l.logf(logrus.TraceLevel, "%s", message) }
