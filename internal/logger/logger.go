package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func SetFlags(flags int) {
	log.SetFlags(flags)
}

// InitFromEnv applies LOG_LEVEL. Unknown values fall back to info.
func InitFromEnv() {
	SetLevelFromString(os.Getenv("LOG_LEVEL"))
}

func SetLevel(level Level) {
	currentLevel.Store(int32(level))
}

func CurrentLevel() Level {
	return Level(currentLevel.Load())
}

// ParseLevel maps a level name to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

func SetLevelFromString(level string) {
	parsed, _ := ParseLevel(level)
	SetLevel(parsed)
}

func EnabledDebug() bool {
	return enabled(LevelDebug)
}

// Logger prefixes every line with a component tag, e.g. "[S3Storage]".
type Logger struct {
	prefix string
}

func New(component string) *Logger {
	return &Logger{prefix: "[" + component + "] "}
}

func (l *Logger) Debugf(format string, args ...any) { Debugf(l.prefix+format, args...) }
func (l *Logger) Infof(format string, args ...any)  { Infof(l.prefix+format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { Warnf(l.prefix+format, args...) }
func (l *Logger) Errorf(format string, args ...any) { Errorf(l.prefix+format, args...) }

func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, args...)
	}
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		log.Printf("[INFO] "+format, args...)
	}
}

func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		log.Printf("[WARN] "+format, args...)
	}
}

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		log.Printf("[ERROR] "+format, args...)
	}
}

func Fatalf(format string, args ...any) {
	log.Fatalf("[FATAL] "+format, args...)
}

func enabled(level Level) bool {
	return level >= CurrentLevel()
}
