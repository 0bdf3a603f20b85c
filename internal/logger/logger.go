package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger owns the process zerolog.Logger and the files behind it
type Logger struct {
	logger   zerolog.Logger
	file     *lumberjack.Logger
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string `json:"level" mapstructure:"level"` // debug, info, warn, error
	File      string `json:"file,omitempty" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAge    int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress  bool   `json:"compress" mapstructure:"compress"`

	// Output receives console logs. Defaults to stderr so stdout stays free
	// for turn output.
	Output io.Writer `json:"-" mapstructure:"-"`
}

// New creates a logger and installs it as the zerolog global
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	console := cfg.Output
	if console == nil {
		console = os.Stderr
	}

	var writers []io.Writer
	if cfg.Console {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, console)
		}
	}

	var file *lumberjack.Logger
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxSize,
			MaxAge:   cfg.MaxAge,
			Compress: cfg.Compress,
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = console
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		writer = redactor.Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	return &Logger{
		logger:   logger,
		file:     file,
		redactor: redactor,
	}, nil
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Component returns a child logger tagged with a component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}
