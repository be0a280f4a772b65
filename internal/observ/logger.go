// Package observ carries the process-wide observability pieces shared
// by all three listeners: the zap logger and the prometheus metrics.
package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production logs JSON with
// ISO 8601 timestamps for ingestion; development gets the colored
// console encoder. Every line carries the service field so the three
// listeners' output stays attributable when aggregated.
func NewLogger(env, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		// A bad LOG_LEVEL should not stop startup.
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.InitialFields = map[string]any{"service": "shopnet"}

	return cfg.Build()
}
