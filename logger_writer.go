package realtime

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// writerLogger writes one plain-text line per entry to an io.Writer. Children created with WithField
// share the writer and its lock.
type writerLogger struct {
	mu     *sync.Mutex
	writer io.Writer
	fields map[string]any
}

// newWriterLogger returns a Logger printing `[timestamp] LEVEL [k=v, ...]: msg` lines to w. It backs
// the tests; production callers should use NewLogrusLogger.
func newWriterLogger(w io.Writer) Logger {
	return &writerLogger{
		mu:     &sync.Mutex{},
		writer: w,
		fields: make(map[string]any),
	}
}

func (l *writerLogger) WithField(key string, value any) Logger {
	child := &writerLogger{
		mu:     l.mu,
		writer: l.writer,
		fields: make(map[string]any, len(l.fields)+1),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	child.fields[key] = value
	return child
}

func (l *writerLogger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(" [")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, l.fields[k])
	}
	b.WriteString("]")
	return b.String()
}

func (l *writerLogger) log(level, msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	msg = strings.TrimSuffix(msg, "\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "[%s] %s%s: %s\n", timestamp, level, l.formatFields(), msg)
}

func (l *writerLogger) Debug(args ...any) { l.log("DEBUG", fmt.Sprint(args...)) }

func (l *writerLogger) Debugf(format string, args ...any) {
	l.log("DEBUG", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debugln(args ...any) { l.log("DEBUG", fmt.Sprintln(args...)) }

func (l *writerLogger) Info(args ...any) { l.log("INFO", fmt.Sprint(args...)) }

func (l *writerLogger) Infof(format string, args ...any) {
	l.log("INFO", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Infoln(args ...any) { l.log("INFO", fmt.Sprintln(args...)) }

func (l *writerLogger) Warn(args ...any) { l.log("WARN", fmt.Sprint(args...)) }

func (l *writerLogger) Warnf(format string, args ...any) {
	l.log("WARN", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Warnln(args ...any) { l.log("WARN", fmt.Sprintln(args...)) }

func (l *writerLogger) Error(args ...any) { l.log("ERROR", fmt.Sprint(args...)) }

func (l *writerLogger) Errorf(format string, args ...any) {
	l.log("ERROR", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Errorln(args ...any) { l.log("ERROR", fmt.Sprintln(args...)) }
