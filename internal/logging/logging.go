// Package logging provides the process-wide structured logger.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = defaultLogger()
)

func defaultLogger() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// SetLevel adjusts the minimum level for all future WithComponent loggers.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	base = base.Level(level)
}

// UseJSON switches the base logger to JSON output, for production/service use.
func UseJSON() {
	mu.Lock()
	defer mu.Unlock()
	lvl := base.GetLevel()
	base = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
}

// WithComponent returns a logger tagged with the given component name.
func WithComponent(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", name).Logger()
}
