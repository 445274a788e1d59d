package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger at level and installs it as the zap
// global. Output of the standard library logger (gocql writes there) is
// redirected into it at info level. Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zap.DebugLevel
	case "info":
		lvl = zap.InfoLevel
	case "warn":
		lvl = zap.WarnLevel
	case "error":
		lvl = zap.ErrorLevel
	default:
		lvl = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	install(logger)
	return logger, nil
}

// install makes logger the zap global and the sink of the standard library
// logger. The returned func undoes both.
func install(logger *zap.Logger) (restore func()) {
	undoGlobals := zap.ReplaceGlobals(logger)
	undoStdLog := zap.RedirectStdLog(logger.Named("stdlog"))
	return func() {
		undoStdLog()
		undoGlobals()
	}
}
