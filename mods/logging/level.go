package logging

import (
	"context"
	"log/slog"
	"path"
	"strings"
)

type Level int

const (
	LevelAll Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var logLevelNames = []string{"ALL", "TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

func ParseLogLevel(name string) Level {
	switch strings.ToUpper(name) {
	default:
		return LevelAll
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "NONE":
		return LevelError + 1
	}
}

func LogLevelName(level Level) string {
	if level >= 0 && int(level) < len(logLevelNames) {
		return logLevelNames[level]
	}
	return "UNKNOWN"
}

type Log interface {
	TraceEnabled() bool
	Trace(...any)
	Tracef(format string, args ...any)
	DebugEnabled() bool
	Debug(...any)
	Debugf(format string, args ...any)
	InfoEnabled() bool
	Info(...any)
	Infof(format string, args ...any)
	WarnEnabled() bool
	Warn(...any)
	Warnf(format string, args ...any)
	ErrorEnabled() bool
	Error(...any)
	Errorf(format string, args ...any)

	SetLevel(level Level)
	Level() Level
}

type levelLogger struct {
	name        string
	level       Level
	underlying  []*logWriter
	prefixWidth int
	filter      func(string, context.Context, slog.Record) bool
}

func (l *levelLogger) SetLevel(level Level) { l.level = level }
func (l *levelLogger) Level() Level         { return l.level }

func (l *levelLogger) TraceEnabled() bool { return l.level <= LevelTrace }
func (l *levelLogger) DebugEnabled() bool { return l.level <= LevelDebug }
func (l *levelLogger) InfoEnabled() bool  { return l.level <= LevelInfo }
func (l *levelLogger) WarnEnabled() bool  { return l.level <= LevelWarn }
func (l *levelLogger) ErrorEnabled() bool { return l.level <= LevelError }

func (l *levelLogger) Trace(m ...any) { l.write(LevelTrace, "", m) }
func (l *levelLogger) Debug(m ...any) { l.write(LevelDebug, "", m) }
func (l *levelLogger) Info(m ...any)  { l.write(LevelInfo, "", m) }
func (l *levelLogger) Warn(m ...any)  { l.write(LevelWarn, "", m) }
func (l *levelLogger) Error(m ...any) { l.write(LevelError, "", m) }

func (l *levelLogger) Tracef(format string, args ...any) { l.write(LevelTrace, format, args) }
func (l *levelLogger) Debugf(format string, args ...any) { l.write(LevelDebug, format, args) }
func (l *levelLogger) Infof(format string, args ...any)  { l.write(LevelInfo, format, args) }
func (l *levelLogger) Warnf(format string, args ...any)  { l.write(LevelWarn, format, args) }
func (l *levelLogger) Errorf(format string, args ...any) { l.write(LevelError, format, args) }

// ///////////////////////////////////////////
var levelConfig = make(map[string]Level)
var levelDefault = LevelInfo
var prefixWidthDefault = 16

func SetDefaultLevel(lvl Level) {
	levelDefault = lvl
}

func DefaultLevel() Level {
	return levelDefault
}

func SetLevel(name string, lvl Level) {
	levelConfig[name] = lvl
}

func GetLevel(name string) Level {
	var matchedPattern string
	var matchedLevel Level

	for pattern, level := range levelConfig {
		if match, err := path.Match(pattern, name); match && err == nil {
			if len(matchedPattern) < len(pattern) {
				matchedPattern = pattern
				matchedLevel = level
			}
		}
	}

	if matchedPattern != "" {
		return matchedLevel
	}

	return levelDefault
}
