package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. It is safe to read concurrently
// once Init has run; package init() seeds a usable fallback so code
// that logs before main() calls Init (or in a test that never does)
// still writes somewhere instead of panicking on a zero Logger.
var Logger zerolog.Logger

// Level names the four severities this package accepts from
// configuration. An unrecognized level string, such as a typo in a
// config file, falls back to info (see resolveLevel).
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// zerologLevels maps the four accepted Level names to the zerolog
// levels they select; an unrecognized Level (including the zero
// value) falls through to info in Init.
var zerologLevels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config controls the one call to Init that sets up Logger for the
// life of the process.
type Config struct {
	Level Level
	// JSONOutput selects structured JSON lines over the human-readable
	// console writer. Operators piping logs into a collector want
	// JSON; a developer watching a terminal wants the console writer.
	JSONOutput bool
	// Output defaults to stdout when nil; tests pass a buffer here to
	// capture and assert on log output.
	Output io.Writer
}

// Init sets the package-level Logger and the zerolog global level
// from cfg. It is meant to run once, early in main, before any
// component calls WithComponent or one of the package-level helpers.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(resolveLevel(cfg.Level))
	Logger = newWriter(cfg).With().Timestamp().Logger()
}

// resolveLevel translates a Config.Level into the zerolog.Level Init
// applies globally, defaulting to info for anything not in
// zerologLevels.
func resolveLevel(l Level) zerolog.Level {
	if lv, ok := zerologLevels[l]; ok {
		return lv
	}
	return zerolog.InfoLevel
}

// newWriter builds the zerolog writer Init wraps with a timestamp
// hook: raw JSON to cfg.Output (or stdout) when requested, otherwise
// a console writer formatting timestamps as RFC3339.
func newWriter(cfg Config) zerolog.Logger {
	dst := cfg.Output
	if dst == nil {
		dst = os.Stdout
	}
	if cfg.JSONOutput {
		return zerolog.New(dst)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: dst, TimeFormat: time.RFC3339})
}

// WithComponent tags a child logger with the subsystem that owns it.
// Every manager subsystem (registry, scheduler, category, transfer,
// replicate) logs through one of these rather than the bare Logger,
// so a log line's origin never has to be guessed from its message.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorker tags a child logger with a worker's hashkey.
func WithWorker(hashkey string) zerolog.Logger {
	return Logger.With().Str("worker", hashkey).Logger()
}

// WithTask tags a child logger with a task id.
func WithTask(taskID int64) zerolog.Logger {
	return Logger.With().Int64("task_id", taskID).Logger()
}

// WithCategory tags a child logger with a category name.
func WithCategory(category string) zerolog.Logger {
	return Logger.With().Str("category", category).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

func Fatal(msg string) { Logger.Fatal().Msg(msg) }

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
