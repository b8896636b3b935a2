// Package logging provides the daemon's structured logger: component-
// scoped loggers built on zap, a quiet mode that suppresses stdio output
// while a tool transport owns stdin/stdout, and an optional file sink
// under <data-dir>/logs.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	base  *zap.Logger = zap.NewNop()
	quiet bool
)

// SetQuiet suppresses all stdio log output. A tool-surface transport
// (e.g. the MCP stdio transport wired in cmd/sari) must call this before
// starting, since any stray byte on stdout would corrupt the protocol
// stream.
func SetQuiet(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = enabled
}

// Init wires the process-wide base logger. logDir may be empty to skip
// file output (e.g. in tests).
func Init(logDir string) error {
	cores := []zapcore.Core{}

	mu.RLock()
	q := quiet
	mu.RUnlock()

	enc := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
	if !q {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.InfoLevel))
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		name := fmt.Sprintf("sari-%s.log", time.Now().Format("2006-01-02T150405"))
		f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(f), zap.DebugLevel))
	}

	core := zapcore.NewNopCore()
	if len(cores) > 0 {
		core = zapcore.NewTee(cores...)
	}

	mu.Lock()
	base = zap.New(core)
	mu.Unlock()
	return nil
}

// For returns a component-scoped logger, e.g. For("indexing"), For("search").
func For(component string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(component).Sugar()
}

// Sync flushes any buffered log entries; call during shutdown.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}
