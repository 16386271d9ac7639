package app

import (
	"os"

	"parcelflow/internal/config"
	"parcelflow/internal/logx"
)

// NewLogger returns the process JSON logger at the configured level.
func NewLogger(cfg *config.Config) logx.Logger {
	return logx.New(os.Stdout, cfg.LogLevel).With(logx.String("service", "parcelflow"))
}
