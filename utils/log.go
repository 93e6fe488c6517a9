package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a -log flag value to a level, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// sink is shared by a logger and every logger derived from it with With
type sink struct {
	mu       sync.Mutex
	minLevel LogLevel
	file     *os.File
	extra    io.Writer
}

type Logger struct {
	s      *sink
	prefix string
}

// NewFileLogger appends to filePath, and mirrors to stdout when alsoStdout is set.
func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	s := &sink{minLevel: minLevel, file: f}
	if alsoStdout {
		s.extra = os.Stdout
	}
	return &Logger{s: s}, nil
}

// NewWriterLogger logs to w only. Used by tests and tools without a log file.
func NewWriterLogger(w io.Writer, minLevel LogLevel) *Logger {
	return &Logger{s: &sink{minLevel: minLevel, extra: w}}
}

// With returns a logger that tags every line with prefix, sharing the
// destination and level of l.
func (l *Logger) With(prefix string) *Logger {
	p := prefix
	if l.prefix != "" {
		p = l.prefix + " " + prefix
	}
	return &Logger{s: l.s, prefix: p}
}

func (l *Logger) Close() error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.file != nil {
		err := l.s.file.Close()
		l.s.file = nil
		return err
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.minLevel = level
}

// Enabled reports whether level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return level >= l.s.minLevel
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if level < l.s.minLevel {
		return
	}

	ts := time.Now().Format(time.RFC3339Nano)
	body := fmt.Sprintf(msg, args...)
	var line string
	if l.prefix != "" {
		line = fmt.Sprintf("%s [%s] [%s] %s\n", ts, level.String(), l.prefix, body)
	} else {
		line = fmt.Sprintf("%s [%s] %s\n", ts, level.String(), body)
	}

	if l.s.file != nil {
		_, _ = l.s.file.WriteString(line)
	}
	if l.s.extra != nil {
		_, _ = io.WriteString(l.s.extra, line)
	}
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
