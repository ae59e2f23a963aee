package logger

import (
	"io"
	"maps"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var zerologLevels = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
	FATAL: zerolog.FatalLevel,
}

// Logger writes one JSON object per line. Fields attached with WithField are
// merged into every entry.
type Logger struct {
	mu     sync.RWMutex
	zl     zerolog.Logger
	level  Level
	fields map[string]any
}

var std *Logger

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.MessageFieldName = "message"
	std = New(INFO, os.Stdout)
}

func New(level Level, out io.Writer) *Logger {
	return &Logger{
		zl:     zerolog.New(out).With().Timestamp().Logger(),
		level:  level,
		fields: make(map[string]any),
	}
}

func SetLevel(level Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
}

func (l *Logger) WithField(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newLogger := &Logger{
		zl:     l.zl,
		level:  l.level,
		fields: make(map[string]any, len(l.fields)+1),
	}
	maps.Copy(newLogger.fields, l.fields)
	newLogger.fields[key] = value
	return newLogger
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	l.mu.RLock()
	minLevel := l.level
	l.mu.RUnlock()

	if level < minLevel {
		return
	}

	event := l.zl.WithLevel(zerologLevels[level])
	if len(l.fields) > 0 {
		event = event.Fields(l.fields)
	}
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	if level >= ERROR {
		// skip log and the exported wrapper
		event = event.Caller(2)
	}
	event.Msg(msg)

	if level == FATAL {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(DEBUG, msg, mergeFields(fields...))
}

func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(INFO, msg, mergeFields(fields...))
}

func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(WARN, msg, mergeFields(fields...))
}

func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(ERROR, msg, mergeFields(fields...))
}

func Debug(msg string, fields ...map[string]any) {
	std.log(DEBUG, msg, mergeFields(fields...))
}

func Info(msg string, fields ...map[string]any) {
	std.log(INFO, msg, mergeFields(fields...))
}

func Warn(msg string, fields ...map[string]any) {
	std.log(WARN, msg, mergeFields(fields...))
}

func Error(msg string, fields ...map[string]any) {
	std.log(ERROR, msg, mergeFields(fields...))
}

func WithField(key string, value any) *Logger {
	return std.WithField(key, value)
}

func mergeFields(fields ...map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	result := make(map[string]any)
	for _, f := range fields {
		maps.Copy(result, f)
	}
	return result
}

func ParseLevel(level string) Level {
	switch level {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}
