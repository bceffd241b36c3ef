package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Setup installs a global zap logger so packages can use zap.S()
// without threading a logger handle. Returns the flush function.
func Setup(env, level string) (func(), error) {
	var cfg zap.Config
	if env == "prod" || env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return func() { _ = logger.Sync() }, nil
}
