// Package console provides a simple, human-readable logging interface for
// operator messages. Attack records are not written here; they go to the
// configured sinks.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Component represents a specific subsystem of sshlure.
type Component string

const (
	Main Component = "MAIN"
	Cfg  Component = "CFG"
	SSH  Component = "SSH"
	Geo  Component = "GEO"
	Sink Component = "SINK"
	Mon  Component = "MON"
)

// componentField is the structured field holding the Component.
const componentField = "component"

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, "console", zerolog.InfoLevel)
)

// Init configures the console logger. Format is "console" for the
// "LEVEL | COMP | message" layout or "json" for one JSON object per line.
// Level is any zerolog level name (debug, info, warn, error).
func Init(w io.Writer, level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	switch format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format '%s'", format)
	}

	mu.Lock()
	logger = newLogger(w, format, lvl)
	mu.Unlock()
	return nil
}

func newLogger(w io.Writer, format string, level zerolog.Level) zerolog.Logger {
	if format == "json" {
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}

	cw := zerolog.ConsoleWriter{
		Out:           w,
		NoColor:       true,
		TimeFormat:    "2006-01-02 15:04:05",
		PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, componentField, zerolog.MessageFieldName},
		FieldsExclude: []string{componentField},
		FormatLevel: func(i any) string {
			s, _ := i.(string)
			return fmt.Sprintf("%-5s |", strings.ToUpper(s))
		},
		// Only the component part reaches FormatFieldValue; it is excluded
		// from the trailing key=value fields.
		FormatFieldValue: func(i any) string {
			return fmt.Sprintf("%-4s |", i)
		},
	}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

// Info logs a general informational message.
func Info(c Component, msg string, args ...any) {
	emit(zerolog.InfoLevel, c, msg, args...)
}

// Warning logs a non-critical issue.
func Warning(c Component, msg string, args ...any) {
	emit(zerolog.WarnLevel, c, msg, args...)
}

// Error logs an error message.
func Error(c Component, msg string, args ...any) {
	emit(zerolog.ErrorLevel, c, msg, args...)
}

// Debug logs a verbose diagnostic message. It is dropped unless the console
// was initialized with the debug level.
func Debug(c Component, msg string, args ...any) {
	emit(zerolog.DebugLevel, c, msg, args...)
}

// Errors logs one or more errors with a custom prefix. If the error contains
// multiple joined errors, each is unwrapped and logged as a separate entry.
func Errors(c Component, prefix string, err error) {
	if err == nil {
		return
	}

	// Unwrap joined errors.
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range u.Unwrap() {
			Error(c, "%s%v", prefix, e)
		}
		return
	}

	Error(c, "%s%v", prefix, err)
}

func emit(level zerolog.Level, c Component, msg string, args ...any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	l.WithLevel(level).Str(componentField, string(c)).Msgf(msg, args...)
}
