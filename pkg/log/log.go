package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the root logger of this OS process. Until Init runs it discards
// everything, which keeps library code usable from tests without setup.
var Logger = zerolog.Nop()

// Config holds logging configuration
type Config struct {
	// Level is a zerolog level name ("debug", "info", "warn", "error").
	// Unknown names fall back to info.
	Level string

	// Process names this OS process: "app" for the parent, the worker
	// component for children. Worker processes inherit the supervisor's
	// stderr, so every line must stay attributable after interleaving.
	Process string

	JSONOutput bool
	Output     io.Writer
}

// Init builds the root logger for this process. Called once per process;
// a respawned worker stamps its lines with the same component name but a
// fresh pid, which is how restarts show up in the combined stream.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	// Stderr, not stdout: children share the parent's stderr pipe and the
	// CLI keeps stdout for command output.
	var output io.Writer = os.Stderr
	if cfg.Output != nil {
		output = cfg.Output
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	process := cfg.Process
	if process == "" {
		process = "app"
	}

	Logger = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("process", process).
		Int("pid", os.Getpid()).
		Logger()
}

// WithComponent returns a child logger for one component inside the process
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// Sampled returns a component logger that passes a burst of n lines per
// period and afterwards one line in every tick. Poll loops log through it so
// a persistent failure (storage down, say) surfaces immediately but does not
// flood the stream at tick frequency.
func Sampled(component string, n uint32, period time.Duration, tick uint32) zerolog.Logger {
	return WithComponent(component).Sample(&zerolog.BurstSampler{
		Burst:       n,
		Period:      period,
		NextSampler: &zerolog.BasicSampler{N: tick},
	})
}
