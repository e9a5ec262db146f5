package clusterserver

import (
	"io"
	"log"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// hcLogger lets raft log through logger.Logger. Its level is the global
// log level, so a config reload also quiets raft.
type hcLogger struct {
	logger logger.Logger
	name   string
	args   []any
}

func newHCLogger(l logger.Logger, name string) *hcLogger {
	return &hcLogger{logger: l.With("component", name), name: name}
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	if emit := logAt(l.logger, level); emit != nil {
		emit(msg, args...)
	}
}

// logAt maps an hclog level to a method of l. Off maps to nil.
func logAt(l logger.Logger, level hclog.Level) func(string, ...any) {
	switch level {
	case hclog.Off:
		return nil
	case hclog.Trace, hclog.Debug:
		return l.Debug
	case hclog.Warn:
		return l.Warn
	case hclog.Error:
		return l.Error
	default:
		return l.Info
	}
}

func (l *hcLogger) Trace(msg string, args ...any) { l.Log(hclog.Trace, msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.Log(hclog.Debug, msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.Log(hclog.Info, msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.Log(hclog.Warn, msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.Log(hclog.Error, msg, args...) }

// Trace is folded into Debug, so it is never reported as enabled.
func (l *hcLogger) IsTrace() bool { return false }
func (l *hcLogger) IsDebug() bool { return l.GetLevel() <= hclog.Debug }
func (l *hcLogger) IsInfo() bool  { return l.GetLevel() <= hclog.Info }
func (l *hcLogger) IsWarn() bool  { return l.GetLevel() <= hclog.Warn }
func (l *hcLogger) IsError() bool { return true }

func (l *hcLogger) ImpliedArgs() []any { return l.args }

func (l *hcLogger) With(args ...any) hclog.Logger {
	return &hcLogger{
		logger: l.logger.With(args...),
		name:   l.name,
		args:   append(append([]any(nil), l.args...), args...),
	}
}

func (l *hcLogger) Name() string { return l.name }

func (l *hcLogger) Named(name string) hclog.Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &hcLogger{logger: l.logger.With("subsystem", name), name: full, args: l.args}
}

func (l *hcLogger) ResetNamed(name string) hclog.Logger {
	return &hcLogger{logger: l.logger, name: name, args: l.args}
}

// SetLevel does nothing; see GetLevel.
func (l *hcLogger) SetLevel(hclog.Level) {}

func (l *hcLogger) GetLevel() hclog.Level {
	return hclog.LevelFromString(logger.GetLevel())
}

func (l *hcLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(l.StandardWriter(opts), "", 0)
}

func (l *hcLogger) StandardWriter(*hclog.StandardLoggerOptions) io.Writer {
	return &logWriter{logger: l.logger}
}

// logWriter turns "[LEVEL] msg" lines from memberlist and other
// log.Logger users into leveled records. Unprefixed lines are debug.
type logWriter struct {
	logger logger.Logger
}

var linePrefixes = []struct {
	prefix string
	level  hclog.Level
}{
	{"[ERR]", hclog.Error},
	{"[ERROR]", hclog.Error},
	{"[WARN]", hclog.Warn},
	{"[INFO]", hclog.Info},
}

func (w *logWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	level := hclog.Debug
	for _, lp := range linePrefixes {
		if strings.HasPrefix(line, lp.prefix) {
			level = lp.level
			break
		}
	}
	logAt(w.logger, level)(line)
	return len(p), nil
}
