package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. Packages take component loggers from it
// with Log.With("component", name).
var Log *Logger

type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = New(os.Stderr, "info", "console")
}

// Setup replaces Log, writing to stderr.
func Setup(level string, format string) {
	Log = New(os.Stderr, level, format)
}

// New builds a logger writing to w. format is "json" or "console".
func New(w io.Writer, level string, format string) *Logger {
	var out io.Writer = w
	if strings.ToLower(format) != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stderr}
	}
	z := zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &Logger{z: z}
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "DISABLED", "OFF":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger carrying the given key-value pairs on every
// event.
func (l *Logger) With(args ...interface{}) *Logger {
	c := l.z.With()
	for i := 0; i+1 < len(args); i += 2 {
		c = c.Interface(key(args[i]), args[i+1])
	}
	return &Logger{z: c.Logger()}
}

func (l *Logger) Enabled(level zerolog.Level) bool {
	return l.z.GetLevel() <= level && zerolog.GlobalLevel() <= level
}

func (l *Logger) Info(msg string, args ...interface{}) {
	e := l.z.Info()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	e := l.z.Debug()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	e := l.z.Warn()
	addFields(e, args...)
	e.Msg(msg)
}

// Error logs at error level. An error value passed as the first argument is
// attached under the standard "error" key.
func (l *Logger) Error(msg string, args ...interface{}) {
	e := l.z.Error()
	if len(args)%2 == 1 {
		if err, ok := args[0].(error); ok {
			e = e.Err(err)
			args = args[1:]
		}
	}
	addFields(e, args...)
	e.Msg(msg)
}

func key(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", k)
}

func addFields(e *zerolog.Event, args ...interface{}) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(args); i += 2 {
		e.Interface(key(args[i]), args[i+1])
	}
}
