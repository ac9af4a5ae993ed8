// Package logger holds the process-wide zerolog logger.
//
// Call Init once from main; layers then take a tagged child via Component.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	// Level is one of trace, debug, info, warn or error. Anything else is info.
	Level string
	// Pretty switches to coloured console output for local development.
	Pretty bool
	// Output defaults to os.Stdout.
	Output io.Writer
	// Service is added to every line as "service".
	Service string
}

var (
	mu    sync.Mutex
	root  *zerolog.Logger
	built sync.Once
)

// Init builds the root logger from opts. Later calls return the logger built
// by the first one.
func Init(opts Options) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	built.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		level := ParseLevel(opts.Level)
		zerolog.SetGlobalLevel(level)

		var w io.Writer = os.Stdout
		if opts.Output != nil {
			w = opts.Output
		}
		if opts.Pretty {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}

		fields := zerolog.New(w).Level(level).With().Timestamp().Caller()
		if opts.Service != "" {
			fields = fields.Str("service", opts.Service)
		}
		l := fields.Logger()
		root = &l
	})
	return *root
}

// Get returns the root logger. It panics before Init.
func Get() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		panic("logger: Get called before Init")
	}
	return *root
}

// Component returns a child of the root logger carrying "component": name.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

// Reset forgets the root logger. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	built = sync.Once{}
	root = nil
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
