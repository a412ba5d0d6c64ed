package logger

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level zapcore.Level `toml:"level"`
}

// NewConfig returns a Config with defaults.
func NewConfig() Config {
	return Config{Level: zapcore.InfoLevel}
}

// New builds a logger for the config, writing to w.
func (c Config) New(w io.Writer) *zap.Logger {
	return New(w, c.Level)
}
