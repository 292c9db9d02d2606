package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithDatabase creates a child logger carrying the database field.
func WithDatabase(database string) zerolog.Logger {
	return Logger.With().Str("database", database).Logger()
}

// WithTable creates a child logger carrying the database and table fields.
func WithTable(database, table string) zerolog.Logger {
	return Logger.With().Str("database", database).Str("table", table).Logger()
}

// WithShard creates a child logger carrying database, table and shard
// fields.
func WithShard(database, table, shard string) zerolog.Logger {
	return Logger.With().Str("database", database).Str("table", table).Str("shard", shard).Logger()
}

// WithDataSet creates a child logger carrying database, table and dataset
// fields, used when logging record-level operations.
func WithDataSet(database, table, dataset string) zerolog.Logger {
	return Logger.With().Str("database", database).Str("table", table).Str("dataset", dataset).Logger()
}

// WithUser creates a child logger carrying the user field, to tag log
// lines by caller identity.
func WithUser(user string) zerolog.Logger {
	return Logger.With().Str("user", user).Logger()
}
