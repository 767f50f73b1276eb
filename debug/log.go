package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger  = zap.NewNop()
	file    *os.File
	mu      sync.Mutex
	enabled bool
)

// LogPath returns ~/.config/jdxi-player/debug.log
func LogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "jdxi-player", "debug.log"), nil
}

// Enable starts debug logging to ~/.config/jdxi-player/debug.log
func Enable() error {
	path, err := LogPath()
	if err != nil {
		return err
	}
	return EnableFile(path)
}

// EnableFile starts debug logging to the given file, truncating it.
func EnableFile(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(f), zapcore.DebugLevel)

	logger = zap.New(core)
	file = f
	enabled = true
	logger.Named("debug").Info("=== Debug logging started ===")
	return nil
}

// Use replaces the backing logger. Passing nil disables logging.
func Use(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		logger = zap.NewNop()
		enabled = false
		return
	}
	logger = l
	enabled = true
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	_ = logger.Sync()
	if file != nil {
		file.Close()
		file = nil
	}
	logger = zap.NewNop()
	enabled = false
}

// Logger returns the current backing logger for injection into services.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Log writes a message to the debug log
func Log(category, format string, args ...any) {
	mu.Lock()
	l := logger
	on := enabled
	mu.Unlock()

	if !on {
		return
	}
	l.Named(category).Debug(fmt.Sprintf(format, args...))
}

// LogEvery logs only every N calls (use for high-frequency events)
var counters = make(map[string]int)

func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if n > 0 && count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}
