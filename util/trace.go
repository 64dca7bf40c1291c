package util

import (
	"log/slog"
	"time"
)

// Trace 记录耗时，用法: defer util.Trace("process image")()
func Trace(msg string, args ...any) func() {
	start := time.Now()
	return func() {
		slog.Debug(msg, append(args, "elapsed", time.Since(start))...)
	}
}
