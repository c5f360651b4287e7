package realtime

// Logger is the sink the client and its channels report to. NewLogrusLogger adapts logrus to it, and
// any leveled logger exposing the same methods satisfies it.
type Logger interface {
	WithField(key string, value any) Logger
	Debug(args ...any)
	Debugf(format string, args ...any)
	Debugln(args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Infoln(args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Warnln(args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Errorln(args ...any)
}

type noopLogger struct{}

func (noopLogger) WithField(string, any) Logger { return noopLogger{} }
func (noopLogger) Debug(...any)                 {}
func (noopLogger) Debugf(string, ...any)        {}
func (noopLogger) Debugln(...any)               {}
func (noopLogger) Info(...any)                  {}
func (noopLogger) Infof(string, ...any)         {}
func (noopLogger) Infoln(...any)                {}
func (noopLogger) Warn(...any)                  {}
func (noopLogger) Warnf(string, ...any)         {}
func (noopLogger) Warnln(...any)                {}
func (noopLogger) Error(...any)                 {}
func (noopLogger) Errorf(string, ...any)        {}
func (noopLogger) Errorln(...any)               {}

// NoopLogger discards everything.
func NoopLogger() Logger { return noopLogger{} }

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
