package log

// Modular is a levelled logger that can be branched into child loggers
// carrying additional structured fields.
type Modular interface {
	WithFields(fields map[string]string) Modular
	With(keyValues ...any) Modular

	Errorf(format string, v ...any)
	Warnf(format string, v ...any)
	Infof(format string, v ...any)
	Debugf(format string, v ...any)
	Tracef(format string, v ...any)

	Errorln(message string)
	Warnln(message string)
	Infoln(message string)
	Debugln(message string)
	Traceln(message string)
}
