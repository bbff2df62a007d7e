package util

import (
	"log/slog"
	"time"
)

// Trace 记录一段逻辑的耗时，用法: defer util.Trace("batch")()
func Trace(name string) func() {
	start := time.Now()
	slog.Debug("trace start", "name", name)
	return func() {
		slog.Debug("trace done", "name", name, "elapsed", time.Since(start))
	}
}
