package logx

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// callerDepth skips zerolog's Caller, Logger.emit and the level method.
const callerDepth = 2

var setupOnce sync.Once

func setupZerolog() {
	setupOnce.Do(func() {
		zerolog.TimeFieldFormat = timeFormat
		zerolog.ErrorFieldName = "err"
		zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
			return filepath.Base(file) + ":" + strconv.Itoa(line)
		}
	})
}

// Logger is a value-type structured logger. The zero value discards everything.
type Logger struct {
	svc    *Service
	base   *zerolog.Logger
	fields []Field
}

func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{base: &zl}
}

// NewConsole is a standalone console logger for use before config is loaded.
func NewConsole(level string) Logger {
	setupZerolog()
	zl := zerolog.New(consoleWriter(os.Stdout)).Level(parseLevel(level, LevelInfo)).With().Timestamp().Logger()
	return Logger{base: &zl}
}

// NewWriter logs JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	setupZerolog()
	zl := zerolog.New(w).Level(parseLevel(level, LevelDebug)).With().Timestamp().Logger()
	return Logger{base: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.base == nil && len(l.fields) == 0 }

func (l Logger) zl() *zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.base != nil:
		return l.base
	default:
		return nil
	}
}

func (l Logger) Enabled(level Level) bool {
	zl := l.zl()
	return zl != nil && level >= zl.GetLevel() && level >= zerolog.GlobalLevel()
}

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l Logger) emit(level Level, msg string, fields []Field) {
	zl := l.zl()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	e = e.Caller(callerDepth)
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}

// parseLevel accepts zerolog level names (any case) plus "warning".
func parseLevel(s string, def Level) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}
