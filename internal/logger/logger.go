// Package logger provides named logrus loggers shared by the engine, the
// CLI and the HTTP service.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger names used across the module.
const (
	App    = "app"
	Source = "source"
	Engine = "engine"
	HTTP   = "http"
)

// Config controls log level, format and destination. Fields carry env tags
// so the service config can embed it.
type Config struct {
	// Level: trace, debug, info, warn, error.
	Level string `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`

	// Format: json or text.
	Format string `env:"LOG_FORMAT" envDefault:"text" yaml:"format"`

	// Output: stdout, file or both.
	Output string `env:"LOG_OUTPUT" envDefault:"stdout" yaml:"output"`

	Path       string `env:"LOG_PATH" envDefault:"./logs" yaml:"path"`
	MaxSize    int    `env:"LOG_MAX_SIZE" envDefault:"100" yaml:"max_size_mb"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"7" yaml:"max_backups"`
	MaxAge     int    `env:"LOG_MAX_AGE" envDefault:"7" yaml:"max_age_days"`
	Compress   bool   `env:"LOG_COMPRESS" envDefault:"true" yaml:"compress"`
}

// DefaultConfig returns a stdout text logger at info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		Output:     "stdout",
		Path:       "./logs",
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     7,
		Compress:   true,
	}
}

var (
	mu      sync.Mutex
	config  = DefaultConfig()
	loggers = make(map[string]*logrus.Logger)
)

// Init replaces the logging configuration. Loggers created earlier are
// reconfigured in place so holders of a *logrus.Logger see the change.
func Init(cfg Config) error {
	if cfg.Output == "file" || cfg.Output == "both" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()

	config = cfg
	for name, l := range loggers {
		configure(l, name)
	}
	return nil
}

// Get returns the logger registered under name, creating it on first use.
func Get(name string) *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[name]; ok {
		return l
	}
	l := logrus.New()
	configure(l, name)
	loggers[name] = l
	return l
}

// configure applies the current config to l. Callers hold mu.
func configure(l *logrus.Logger, name string) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if config.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	var writers []io.Writer
	if config.Output == "file" || config.Output == "both" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(config.Path, name+".log"),
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}
	if config.Output != "file" {
		writers = append(writers, os.Stdout)
	}
	l.SetOutput(io.MultiWriter(writers...))
}

// Discard returns a logger that drops everything. Tests and library
// callers that do not want output use it.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
