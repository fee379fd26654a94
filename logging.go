package lumen

import (
	"github.com/gekko3d/lumen/lumenrt/rt/core"
)

// Logger is the logging interface every subsystem takes. A nil Logger means no output.
type Logger = core.Logger

type DefaultLogger = core.DefaultLogger

func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	return core.NewDefaultLogger(prefix, debug)
}

func NewNopLogger() Logger { return core.NewNopLogger() }

// LoggingConfig is the logging section of a level file.
type LoggingConfig struct {
	Prefix string `json:"prefix"`
	Debug  bool   `json:"debug"`
}

// NewLogger builds the default logger described by c.
func (c LoggingConfig) NewLogger() *DefaultLogger {
	return NewDefaultLogger(c.Prefix, c.Debug)
}
