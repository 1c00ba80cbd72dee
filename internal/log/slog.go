package log

import (
	"fmt"
	"log/slog"
)

type slogHandler struct {
	slog *slog.Logger
}

// NewSlogAdapter wraps a *slog.Logger with a Modular implementation. Trace
// level messages are emitted at debug level.
func NewSlogAdapter(l *slog.Logger) Modular {
	return &slogHandler{slog: l}
}

func (l *slogHandler) WithFields(fields map[string]string) Modular {
	tmp := l.slog
	for k, v := range fields {
		tmp = tmp.With(slog.String(k, v))
	}
	return &slogHandler{slog: tmp}
}

func (l *slogHandler) With(keyValues ...any) Modular {
	return &slogHandler{slog: l.slog.With(keyValues...)}
}

func (l *slogHandler) Errorf(format string, v ...any) {
	l.slog.Error(fmt.Sprintf(format, v...))
}

func (l *slogHandler) Warnf(format string, v ...any) {
	l.slog.Warn(fmt.Sprintf(format, v...))
}

func (l *slogHandler) Infof(format string, v ...any) {
	l.slog.Info(fmt.Sprintf(format, v...))
}

func (l *slogHandler) Debugf(format string, v ...any) {
	l.slog.Debug(fmt.Sprintf(format, v...))
}

func (l *slogHandler) Tracef(format string, v ...any) {
	l.slog.Debug(fmt.Sprintf(format, v...))
}

func (l *slogHandler) Errorln(message string) {
	l.slog.Error(message)
}

func (l *slogHandler) Warnln(message string) {
	l.slog.Warn(message)
}

func (l *slogHandler) Infoln(message string) {
	l.slog.Info(message)
}

func (l *slogHandler) Debugln(message string) {
	l.slog.Debug(message)
}

func (l *slogHandler) Traceln(message string) {
	l.slog.Debug(message)
}
