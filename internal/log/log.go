// Package log is a thin wrapper around the teacher's log construction:
// NewLogger builds the process-wide zap.Logger from the level/format
// flags bound in cmd/flags.go, delegating to github.com/foomo/keel/log
// exactly as cmd/root.go's PersistentPreRun does.
package log

import (
	"github.com/foomo/keel/log"
	"go.uber.org/zap"
)

// NewLogger builds a zap.Logger for the given level ("debug", "info",
// "warn", "error") and format ("json", "console").
func NewLogger(level, format string) *zap.Logger {
	return log.NewLogger(level, format)
}

// Logger returns the process-wide logger installed by zap.ReplaceGlobals,
// matching github.com/foomo/keel/log.Logger's fallback behaviour when
// called before any replacement has happened.
func Logger() *zap.Logger {
	return log.Logger()
}
