package gapura

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging contract. Arguments after the
// message alternate key, value.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DebugConfig selects which pipeline stages emit debug logs.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCache     bool
	LogRateLimit bool
	LogAuth      bool
	LogCircuit   bool
	RequestIDGen func() string
}

// DefaultDebugConfig enables all stage logs with uuid request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		LogCache:     true,
		LogRateLimit: true,
		LogAuth:      true,
		LogCircuit:   true,
		RequestIDGen: uuid.NewString,
	}
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface. This is the
// production logger; SimpleLogger exists for examples and tests.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: l}
}

// NewDefaultZerologLogger builds a zerolog logger writing to stderr with
// timestamps.
func NewDefaultZerologLogger() *ZerologLogger {
	return &ZerologLogger{
		log: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

func (z *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	z.emit(z.log.Debug(), msg, keysAndValues)
}

func (z *ZerologLogger) Info(msg string, keysAndValues ...any) {
	z.emit(z.log.Info(), msg, keysAndValues)
}

func (z *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	z.emit(z.log.Warn(), msg, keysAndValues)
}

func (z *ZerologLogger) Error(msg string, keysAndValues ...any) {
	z.emit(z.log.Error(), msg, keysAndValues)
}

func (z *ZerologLogger) emit(event *zerolog.Event, msg string, keysAndValues []any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		event = event.Interface(key, keysAndValues[i+1])
	}
	event.Msg(msg)
}

// SimpleLogger writes formatted key=value lines to the standard logger.
type SimpleLogger struct {
	out *log.Logger
}

// NewSimpleLogger creates a console logger for examples and tests.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{out: log.New(os.Stderr, "gapura ", log.LstdFlags)}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...any) { l.print("DEBUG", msg, keysAndValues) }
func (l *SimpleLogger) Info(msg string, keysAndValues ...any)  { l.print("INFO", msg, keysAndValues) }
func (l *SimpleLogger) Warn(msg string, keysAndValues ...any)  { l.print("WARN", msg, keysAndValues) }
func (l *SimpleLogger) Error(msg string, keysAndValues ...any) { l.print("ERROR", msg, keysAndValues) }

func (l *SimpleLogger) print(level, msg string, keysAndValues []any) {
	line := level + " " + msg
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	l.out.Println(line)
}
