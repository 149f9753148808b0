// Package log configures process-wide structured logging and carries the
// small helpers the rest of agentround uses around it.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	initOnce sync.Once
	panicDir atomic.Value
)

// Setup routes slog output to a rotating JSON log file. Only the first call
// has any effect.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     30, // days
		}

		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}

		handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
			Level:     level,
			AddSource: debug,
		})

		slog.SetDefault(slog.New(handler))
		panicDir.Store(filepath.Dir(logFile))
	})
}

// MaskAPIKey keeps the first and last few characters of a credential so it can
// be told apart in logs without being leaked.
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return "***EMPTY***"
	}

	key := strings.TrimPrefix(apiKey, "Bearer ")
	key = strings.TrimPrefix(key, "sk-")

	n := len(key)
	switch {
	case n <= 4:
		return strings.Repeat("*", n)
	case n <= 10:
		return key[:2] + strings.Repeat("*", n-4) + key[n-2:]
	default:
		return key[:5] + strings.Repeat("*", n-10) + key[n-5:]
	}
}

// RecoverPanic is meant to be deferred at the top of background goroutines.
// It logs the panic, writes the stack to a panic file next to the log file
// (or the working directory) and runs cleanup.
func RecoverPanic(name string, cleanup func()) {
	r := recover()
	if r == nil {
		return
	}

	slog.Error("Recovered from panic", "goroutine", name, "panic", r)

	dir, _ := panicDir.Load().(string)
	filename := filepath.Join(dir, fmt.Sprintf("agentround-panic-%s-%s.log", name, time.Now().Format("20060102-150405")))
	if file, err := os.Create(filename); err == nil {
		fmt.Fprintf(file, "Panic in %s: %v\n\n", name, r)
		fmt.Fprintf(file, "Time: %s\n\n", time.Now().Format(time.RFC3339))
		fmt.Fprintf(file, "Stack Trace:\n%s\n", debug.Stack())
		file.Close()
	}

	if cleanup != nil {
		cleanup()
	}
}
