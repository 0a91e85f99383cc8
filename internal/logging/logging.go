// Package logging constructs the hclog.Logger instances used throughout
// HAP. There is no ambient/global logger: every component receives one
// explicitly at construction, mirroring the teacher's plugin logger
// wiring (mantonx-viewra's internal/plugins use of hclog.Logger).
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Config controls the root logger's level and output format.
type Config struct {
	Level      string // "trace","debug","info","warn","error"; default "info"
	JSON       bool
	Output     io.Writer // default os.Stderr
}

// New builds the root logger for a HAP process. Callers derive
// component-scoped loggers from it via logger.Named(...).
func New(cfg Config) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "hap",
		Level:      level,
		Output:     out,
		JSONFormat: cfg.JSON,
	})
}
